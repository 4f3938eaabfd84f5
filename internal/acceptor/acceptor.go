// Package acceptor owns the TCP listener and supervises the lifecycle
// of every session connection, draining them on shutdown. Grounded on
// the teacher's internal/server Server: same readiness channel,
// accept-loop shape, and WaitGroup-drained Shutdown, adapted to spawn
// session.Handle instead of CAN reader/writer goroutines. The listen
// socket itself is built in listen.go, since honoring a configured
// backlog requires bypassing net.Listen.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tp0-distribuidos/lottery-server/internal/coordinator"
	"github.com/tp0-distribuidos/lottery-server/internal/logging"
	"github.com/tp0-distribuidos/lottery-server/internal/metrics"
	"github.com/tp0-distribuidos/lottery-server/internal/session"
	"github.com/tp0-distribuidos/lottery-server/internal/store"
)

var (
	ErrListen   = errors.New("listen")
	ErrAccept   = errors.New("accept")
	ErrShutdown = errors.New("shutdown timeout")
)

const (
	defaultReadTimeout   = 60 * time.Second
	defaultHandshakeTO   = 3 * time.Second
	defaultListenBacklog = 128
)

// Server accepts connections and hands each to session.Handle.
type Server struct {
	mu               sync.RWMutex
	addr             string
	listenBacklog    int
	maxBatchBytes    int
	store            *store.Store
	coordinator      *coordinator.Coordinator
	readTimeout      time.Duration
	handshakeTimeout time.Duration
	readyOnce        sync.Once
	readyCh          chan struct{}
	listener         net.Listener
	conns            map[net.Conn]struct{}
	connsMu          sync.Mutex
	wg               sync.WaitGroup
	logger           *slog.Logger
	nextConnID       uint64
	totalAccepted    atomic.Uint64
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readTimeout:      defaultReadTimeout,
		handshakeTimeout: defaultHandshakeTO,
		listenBacklog:    defaultListenBacklog,
		readyCh:          make(chan struct{}),
		conns:            make(map[net.Conn]struct{}),
		logger:           logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }

// WithListenBacklog sets the kernel listen(2) backlog. net.Listen
// gives no public hook for this (Go sizes it from SOMAXCONN
// internally), so Serve always builds the socket itself; see
// listen.go. A non-positive n keeps the default backlog.
func WithListenBacklog(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.listenBacklog = n
		}
	}
}

// WithMaxBatchBytes bounds the declared length of a BET frame's
// payload that sessions spawned by this server will accept.
func WithMaxBatchBytes(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxBatchBytes = n
		}
	}
}

func WithStore(st *store.Store) ServerOption {
	return func(s *Server) { s.store = st }
}
func WithCoordinator(c *coordinator.Coordinator) ServerOption {
	return func(s *Server) { s.coordinator = c }
}
func WithReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}
func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Serve opens the listen socket and accepts connections until ctx is
// cancelled or a fatal listener error occurs.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	ln, err := listenTCPBacklog(addr, s.listenBacklog)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(metrics.ErrIO)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(metrics.ErrIO)
		return wrap
	}

	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	metrics.IncSessionsAccepted()

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	deps := session.Deps{
		Store:         s.store,
		Coordinator:   s.coordinator,
		ReadTimeout:   s.readTimeout,
		HandshakeTO:   s.handshakeTimeout,
		MaxBatchBytes: s.maxBatchBytes,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.connsMu.Lock()
			delete(s.conns, conn)
			s.connsMu.Unlock()
		}()
		session.Handle(conn, deps, connLogger)
	}()
	return nil
}

// Shutdown closes the listener and every live connection, then waits
// for all session goroutines to exit or ctx's deadline to pass.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrShutdown, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load())
		return nil
	}
}
