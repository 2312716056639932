// Command shmkv-server creates a shmkv region and serves it until
// interrupted, following the retrieved cs6450-labs server's flag
// configuration and the retrieved evm_triarb main's SIGINT/SIGTERM
// shutdown handling.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shmkv/shmkv"
)

func main() {
	region := flag.String("region", "default", "name of the region to create")
	workers := flag.Int("workers", 0, "worker pool size (0 = GOMAXPROCS)")
	stripes := flag.Int("stripes", 0, "store stripe count (0 = GOMAXPROCS)")
	rendezvous := flag.Bool("rendezvous", true, "run the client bootstrap listener")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv, err := shmkv.NewServer[int32, int32](shmkv.ServerConfig{
		Region:     *region,
		Workers:    *workers,
		Stripes:    *stripes,
		Rendezvous: *rendezvous,
		Logger:     log,
	})
	if err != nil {
		log.Error("failed to create region", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	if err := srv.Stop(); err != nil {
		log.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
}
