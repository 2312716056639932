package shmkv

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func newRegionName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("test-%d-%d", time.Now().UnixNano()%1e9, rand.Int())
}

func TestEndToEndSetGetDel(t *testing.T) {
	name := newRegionName(t)
	srv, err := NewServer[int32, int32](ServerConfig{Region: name, Workers: 2})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	cli, err := Connect[int32, int32](name)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer cli.Close()

	if _, found, err := cli.Get(1); err != nil || found {
		t.Fatalf("Get on empty store: found=%v err=%v", found, err)
	}

	if err := cli.Set(1, 100); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if value, found, err := cli.Get(1); err != nil || !found || value != 100 {
		t.Fatalf("Get after Set: value=%d found=%v err=%v", value, found, err)
	}

	if existed, err := cli.Del(1); err != nil || !existed {
		t.Fatalf("Del: existed=%v err=%v", existed, err)
	}
	if _, found, err := cli.Get(1); err != nil || found {
		t.Fatalf("Get after Del: found=%v err=%v", found, err)
	}
}

func TestEndToEndPostIsInsertOnlyOnce(t *testing.T) {
	name := newRegionName(t)
	srv, err := NewServer[int32, int32](ServerConfig{Region: name, Workers: 1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	cli, err := Connect[int32, int32](name)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer cli.Close()

	inserted, err := cli.Post(5, 50)
	if err != nil || !inserted {
		t.Fatalf("first Post: inserted=%v err=%v", inserted, err)
	}
	inserted, err = cli.Post(5, 999)
	if err != nil || inserted {
		t.Fatalf("second Post: inserted=%v err=%v", inserted, err)
	}
	if value, _, _ := cli.Get(5); value != 50 {
		t.Fatalf("value after duplicate Post = %d, want original 50", value)
	}
}

func TestEndToEndConcurrentClients(t *testing.T) {
	name := newRegionName(t)
	srv, err := NewServer[int32, int32](ServerConfig{Region: name, Workers: 4})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	const clients = 8
	const perClient = 50

	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			cli, err := Connect[int32, int32](name)
			if err != nil {
				t.Errorf("client %d Connect: %v", c, err)
				return
			}
			defer cli.Close()
			for i := 0; i < perClient; i++ {
				key := int32(c*perClient + i)
				if err := cli.Set(key, key*2); err != nil {
					t.Errorf("client %d Set(%d): %v", c, key, err)
					return
				}
			}
		}(c)
	}
	wg.Wait()

	if got := srv.Size(); got != clients*perClient {
		t.Fatalf("Size() = %d, want %d", got, clients*perClient)
	}
}

func TestClientObservesTerminationSignal(t *testing.T) {
	name := newRegionName(t)
	srv, err := NewServer[int32, int32](ServerConfig{Region: name, Workers: 1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cli, err := Connect[int32, int32](name)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer cli.Close()

	if cli.Terminated() {
		t.Fatal("client should not observe termination before server stops")
	}

	srv.Stop()

	if !cli.Terminated() {
		t.Fatal("client should observe termination after server stops")
	}
	if _, _, err := cli.Get(1); err != ErrDisconnected {
		t.Fatalf("Get after server termination: got %v, want ErrDisconnected", err)
	}
}

func TestAsyncGetOnClosedClientReturnsDisconnected(t *testing.T) {
	name := newRegionName(t)
	srv, err := NewServer[int32, int32](ServerConfig{Region: name, Workers: 1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cli, err := Connect[int32, int32](name)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv.Stop()
	cli.Close()

	if _, err := cli.AsyncGet(1); err != ErrDisconnected {
		t.Fatalf("AsyncGet after Close: got %v, want ErrDisconnected", err)
	}
}
