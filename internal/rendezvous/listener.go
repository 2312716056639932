// Package rendezvous implements the client/server bootstrap handshake
// described in spec.md section 6: before a client can attach to an
// existing shared-memory region, it needs the region's name and a
// confirmation that the server has already created and initialized
// it. This package exposes that bootstrap over a Unix domain socket
// rather than the shared memory segment itself, since the segment
// doesn't exist yet when a brand new client first needs to learn
// about it.
//
// The readiness wait WaitForSocket performs before Dial is grounded in
// the retrieved grpc-go shared-memory transport's WaitForServer: a
// ticker-driven poll of an atomic readiness flag instead of a
// condition variable, since spec.md section 6 rules out cross-process
// condvars. The accept loop's lifecycle (atomic.Bool closed flag,
// sync.Once-guarded Close) follows that package's ShmListener.
package rendezvous

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SocketPath returns the well-known rendezvous socket path for a
// region name, per spec.md section 6.1.
func SocketPath(region string) string {
	return fmt.Sprintf("/tmp/shmkv-%s.sock", region)
}

// ErrClosed is returned by Accept after the listener has been closed.
var ErrClosed = errors.New("rendezvous: listener closed")

// Listener accepts client bootstrap connections on a Unix domain
// socket and runs the handle-token handshake against each one: read
// the connecting client's pid (4 bytes, little-endian uint32), then
// write back an opaque handle token (4 bytes, little-endian) and close
// the connection.
type Listener struct {
	path string
	ln   net.Listener
	log  *slog.Logger

	nextHandle atomic.Uint32
	closed     atomic.Bool
	closeOnce  sync.Once

	mu      sync.Mutex
	clients map[uint32]uint32 // pid -> handle
}

// Listen creates the rendezvous socket for region, removing any stale
// socket file left behind by a prior, uncleanly terminated server.
func Listen(region string, log *slog.Logger) (*Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	path := SocketPath(region)
	_ = os.Remove(path) // best effort; stale socket from a crashed server

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: listen %s: %w", path, err)
	}
	return &Listener{
		path:    path,
		ln:      ln,
		log:     log,
		clients: make(map[uint32]uint32),
	}, nil
}

// Serve accepts connections until ctx is canceled or Close is called,
// handshaking each one in its own goroutine and then closing it — the
// rendezvous socket only bootstraps clients, it never carries traffic.
func (l *Listener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}
			l.log.Warn("rendezvous accept failed", "error", err)
			continue
		}
		go l.handshake(conn)
	}
}

func (l *Listener) handshake(conn net.Conn) {
	defer conn.Close()

	var pidBuf [4]byte
	if _, err := readFull(conn, pidBuf[:]); err != nil {
		l.log.Warn("rendezvous: failed to read client pid", "error", err)
		return
	}
	pid := binary.LittleEndian.Uint32(pidBuf[:])
	handle := l.nextHandle.Add(1)

	l.mu.Lock()
	l.clients[pid] = handle
	l.mu.Unlock()

	var handleBuf [4]byte
	binary.LittleEndian.PutUint32(handleBuf[:], handle)
	if _, err := conn.Write(handleBuf[:]); err != nil {
		l.log.Warn("rendezvous: failed to write handle token", "pid", pid, "error", err)
		return
	}
	l.log.Info("client registered", "pid", pid, "handle", handle)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ClientCount returns the number of distinct client pids that have
// been registered since the listener started. A pid that handshakes
// more than once counts once, and entries are never removed.
func (l *Listener) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Close stops accepting new connections and removes the socket file.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		err = l.ln.Close()
		os.Remove(l.path)
	})
	return err
}

// Dial performs the client side of the handshake against an already
// listening server: connect, send our pid, and read back the handle
// token the server assigns us.
func Dial(ctx context.Context, region string) (handle uint32, err error) {
	path := SocketPath(region)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return 0, fmt.Errorf("rendezvous: dial %s: %w", path, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	var pidBuf [4]byte
	binary.LittleEndian.PutUint32(pidBuf[:], uint32(os.Getpid()))
	if _, err := conn.Write(pidBuf[:]); err != nil {
		return 0, fmt.Errorf("rendezvous: send pid: %w", err)
	}

	var handleBuf [4]byte
	if _, err := readFull(conn, handleBuf[:]); err != nil {
		return 0, fmt.Errorf("rendezvous: read handle: %w", err)
	}
	return binary.LittleEndian.Uint32(handleBuf[:]), nil
}

// WaitForSocket polls for the rendezvous socket to appear, the same
// ticker-driven readiness wait the retrieved grpc-go shared-memory
// transport's WaitForServer uses, adapted from polling an atomic flag
// in shared memory to polling the filesystem for the socket path
// (nothing is mapped into this process yet at this point in bootstrap).
func WaitForSocket(ctx context.Context, region string) error {
	path := SocketPath(region)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
