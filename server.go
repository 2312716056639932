package shmkv

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/shmkv/shmkv/internal/region"
	"github.com/shmkv/shmkv/internal/rendezvous"
	"github.com/shmkv/shmkv/internal/resptable"
	"github.com/shmkv/shmkv/internal/ring"
	"github.com/shmkv/shmkv/internal/store"
	"github.com/shmkv/shmkv/internal/worker"
)

// ServerConfig configures Server.Start. Stripes of 0 defaults to
// runtime.GOMAXPROCS(0), mirroring internal/store's own default.
type ServerConfig struct {
	Region     string
	Workers    int
	Stripes    int
	Rendezvous bool
	Logger     *slog.Logger
}

// Server owns a freshly created region, its worker pool, and
// (optionally) its rendezvous listener. It is the orchestration type
// cmd/shmkv-server wraps; library users who only need a client talking
// to someone else's region should use Connect instead.
type Server[K region.Scalar, V region.Scalar] struct {
	cfg ServerConfig
	log *slog.Logger

	seg    *region.Segment
	kv     *store.Map[K, V]
	pool   *worker.Pool[K, V]
	rendez *rendezvous.Listener

	running atomic.Bool
	cancel  context.CancelFunc
}

// NewServer creates the region named cfg.Region (failing if it
// already exists) and wires up the ring, response table, and store
// for a K/V pair, following the retrieved cs6450-labs KVService's
// constructor shape of building every subsystem up front before the
// caller starts serving requests.
func NewServer[K region.Scalar, V region.Scalar](cfg ServerConfig) (*Server[K, V], error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	log := cfg.Logger.With("region", cfg.Region)

	ringSlotSize := ring.SlotSize[K, V]()
	tableSlotSize := resptable.SlotSize[V]()

	seg, err := region.Create(cfg.Region, ringSlotSize, tableSlotSize)
	if err != nil {
		return nil, fmt.Errorf("shmkv: create region %s: %w", cfg.Region, err)
	}

	h := region.HeaderAt(seg.Mem)
	r := ring.NewFromBytes[K, V](seg.Mem, h.RingOffset())
	r.Init()
	t := resptable.NewFromBytes[V](seg.Mem, h.TableOffset())
	t.Init()
	kv := store.New[K, V](cfg.Stripes)

	s := &Server[K, V]{
		cfg:  cfg,
		log:  log,
		seg:  seg,
		kv:   kv,
		pool: worker.New[K, V](r, t, kv, log),
	}
	return s, nil
}

// Start launches the worker pool and, if cfg.Rendezvous is set, the
// rendezvous listener. It is idempotent.
func (s *Server[K, V]) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pool.Start(s.cfg.Workers)

	if s.cfg.Rendezvous {
		l, err := rendezvous.Listen(s.cfg.Region, s.log)
		if err != nil {
			s.pool.Stop()
			s.running.Store(false)
			return fmt.Errorf("shmkv: start rendezvous: %w", err)
		}
		s.rendez = l
		go l.Serve(ctx)
	}

	h := region.HeaderAt(s.seg.Mem)
	h.SetSignal(region.SignalRun)
	s.log.Info("server started", "workers", s.cfg.Workers, "rendezvous", s.cfg.Rendezvous)
	return nil
}

// Stop signals termination to clients, stops the worker pool (tasks
// still in the ring are left undrained), closes the rendezvous
// listener if running, unmaps the region, and unlinks its backing
// file. It is idempotent.
func (s *Server[K, V]) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	h := region.HeaderAt(s.seg.Mem)
	h.SetSignal(region.SignalTerminate)
	h.SetClosed(true)

	s.pool.Stop()
	if s.rendez != nil {
		s.rendez.Close()
	}

	if err := s.seg.Close(); err != nil {
		return fmt.Errorf("shmkv: close segment: %w", err)
	}
	if err := region.Unlink(s.cfg.Region); err != nil {
		return fmt.Errorf("shmkv: unlink region: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// Size returns the number of entries currently in the store, useful
// for diagnostics and tests.
func (s *Server[K, V]) Size() int { return s.kv.Size() }
