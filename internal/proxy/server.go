package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/dreamware/shardis/internal/backend"
	"github.com/dreamware/shardis/internal/topology"
)

// Config carries the server's tunables. The zero value works for tests: an
// empty password disables AUTH, a nil pool gets default timeouts and a nil
// logger falls back to slog.Default().
type Config struct {
	Password string
	Pool     *backend.Pool
	Logger   *slog.Logger
}

// Server accepts client connections and serves each on its own goroutine.
// It owns the shard registry and the backend pool shared by all sessions.
type Server struct {
	dispatcher *Dispatcher
	pool       *backend.Pool
	log        *slog.Logger

	ln       net.Listener
	mu       sync.Mutex
	sessions map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer wires a fresh registry, the pool and the dispatcher into a
// server. Call Listen to bind, then Serve to accept.
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	pool := cfg.Pool
	if pool == nil {
		pool = backend.New(backend.Config{Logger: log})
	}
	return &Server{
		dispatcher: NewDispatcher(topology.NewRegistry(), pool, cfg.Password, log),
		pool:       pool,
		log:        log,
		sessions:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket. It is separate from Serve so callers
// can learn the bound address first; tests listen on port 0.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until Close. It returns nil on clean shutdown
// and the accept error otherwise.
func (s *Server) Serve() error {
	if s.ln == nil {
		return errors.New("serve called before listen")
	}
	s.log.Info("accepting connections", "addr", s.ln.Addr().String())

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.sessions[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		logger := s.log.With("remote", conn.RemoteAddr().String())
		logger.Info("accepted connection")
		sess := newSession(conn, s.dispatcher, logger)
		go func() {
			defer s.wg.Done()
			defer s.forget(conn)
			sess.serve()
		}()
	}
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.sessions, conn)
	s.mu.Unlock()
}

// Close stops the accept loop, closes every live session and the backend
// pool, and waits for session goroutines to finish. Safe to call twice.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	for conn := range s.sessions {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	s.pool.Close()
	s.log.Info("server stopped")
	return err
}
