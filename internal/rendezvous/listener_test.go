package rendezvous

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func TestHandshakeAssignsHandle(t *testing.T) {
	region := fmt.Sprintf("test-%d", rand.Int())
	l, err := Listen(region, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	handle, err := Dial(dialCtx, region)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if handle == 0 {
		t.Fatal("expected a non-zero handle token")
	}

	deadline := time.Now().Add(time.Second)
	for l.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if l.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", l.ClientCount())
	}
}

func TestDistinctClientsGetDistinctHandles(t *testing.T) {
	region := fmt.Sprintf("test-%d", rand.Int())
	l, err := Listen(region, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()

	h1, err := Dial(dialCtx, region)
	if err != nil {
		t.Fatalf("first Dial: %v", err)
	}
	h2, err := Dial(dialCtx, region)
	if err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected distinct handles, got %d and %d", h1, h2)
	}
}
