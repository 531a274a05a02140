package backendtest

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreamware/shardis/internal/resp"
	"github.com/dreamware/shardis/internal/storage"
	"github.com/dreamware/shardis/internal/topology"
)

// Server is an in-process backend store listening on a real TCP port.
// Zero value is not usable; construct through Start, StartOn or
// StartAdjacent.
type Server struct {
	ln net.Listener

	mu      sync.Mutex
	dbs     map[int]*storage.MemoryStore
	conns   map[net.Conn]struct{}
	dropN   int  // accepted connections to close immediately
	closed  bool // Close has run; reject late accepts
	wg      sync.WaitGroup
	delay   atomic.Int64 // reply delay in nanoseconds
	saveTim atomic.Int64 // LASTSAVE answer, unix seconds
}

// Start launches a server on an ephemeral localhost port and registers its
// shutdown with t.Cleanup.
func Start(t testing.TB) *Server {
	t.Helper()
	s, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("backendtest: listen: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// StartOn launches a server on a specific localhost port. Tests use it to
// place a backend where a derived endpoint expects one.
func StartOn(t testing.TB, port int) *Server {
	t.Helper()
	s, err := listen(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("backendtest: listen on port %d: %v", port, err)
	}
	t.Cleanup(s.Close)
	return s
}

// StartAdjacent launches n servers on consecutive localhost ports and
// returns them in port order. The layout matches replica addressing, where
// replica i of a shard listens on the primary's port plus one plus i.
func StartAdjacent(t testing.TB, n int) []*Server {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		base, err := probePort()
		if err != nil {
			t.Fatalf("backendtest: probe port: %v", err)
		}
		if base+n-1 > 65535 {
			continue
		}

		servers := make([]*Server, 0, n)
		ok := true
		for i := 0; i < n; i++ {
			s, err := listen(net.JoinHostPort("127.0.0.1", strconv.Itoa(base+i)))
			if err != nil {
				ok = false
				break
			}
			servers = append(servers, s)
		}
		if !ok {
			for _, s := range servers {
				s.Close()
			}
			continue
		}

		for _, s := range servers {
			t.Cleanup(s.Close)
		}
		return servers
	}
	t.Fatalf("backendtest: no run of %d consecutive free ports", n)
	return nil
}

// probePort asks the kernel for a free port and releases it, so a nearby
// run of ports can be tried from there.
func probePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}

func listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:    ln,
		dbs:   map[int]*storage.MemoryStore{0: storage.NewMemoryStore()},
		conns: make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listener's host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Port returns the listening TCP port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Endpoint returns this server's address as a routable endpoint for db.
func (s *Server) Endpoint(db int) topology.Endpoint {
	return topology.Endpoint{Host: s.Host(), Port: s.Port(), DB: db}
}

// DB returns the store behind database index n, creating it when first
// asked for. Tests assert against it directly.
func (s *Server) DB(n int) *storage.MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.dbs[n]
	if !ok {
		st = storage.NewMemoryStore()
		s.dbs[n] = st
	}
	return st
}

// DropNext makes the server close the next n accepted connections right
// after the accept, so a fresh dial's first exchange fails.
func (s *Server) DropNext(n int) {
	s.mu.Lock()
	s.dropN += n
	s.mu.Unlock()
}

// SetReplyDelay delays every subsequent reply by d. Zero restores
// immediate replies.
func (s *Server) SetReplyDelay(d time.Duration) {
	s.delay.Store(int64(d))
}

// SetLastSave sets the unix timestamp LASTSAVE answers with.
func (s *Server) SetLastSave(unix int64) {
	s.saveTim.Store(unix)
}

// CloseClientConnections severs every live connection while the listener
// stays up. Pooled connections held by a proxy become stale and fail on
// their next use.
func (s *Server) CloseClientConnections() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Close stops accepting, severs live connections and waits for all serving
// goroutines to finish. Safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return // listener closed
		}

		s.mu.Lock()
		drop := s.dropN > 0
		if drop {
			s.dropN--
		}
		reject := s.closed
		if !drop && !reject {
			s.conns[conn] = struct{}{}
			s.wg.Add(1)
		}
		s.mu.Unlock()

		if drop || reject {
			conn.Close()
			continue
		}
		go s.serve(conn)
	}
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer s.forget(conn)
	defer conn.Close()

	r := resp.NewReader(conn)
	w := resp.NewWriter(conn)
	db := 0

	for {
		cmd, err := r.ReadCommand()
		if err != nil {
			var perr *resp.ParseError
			if errors.As(err, &perr) {
				// Protocol violation: report it, then hang up. The stream
				// may be desynchronized past this point.
				if w.WriteReply(resp.Error(perr.Error())) == nil {
					w.Flush()
				}
			}
			return
		}

		if d := time.Duration(s.delay.Load()); d > 0 {
			time.Sleep(d)
		}

		reply, quit := s.handle(&db, cmd)
		if w.WriteReply(reply) != nil || w.Flush() != nil {
			return
		}
		if quit {
			return
		}
	}
}

// handle answers a single command the way a backend store does.
func (s *Server) handle(db *int, cmd resp.Command) (reply resp.Reply, quit bool) {
	switch strings.ToUpper(cmd.Name) {
	case "PING":
		return resp.Status("PONG"), false

	case "ECHO":
		if len(cmd.Args) != 1 {
			return wrongArity(cmd.Name), false
		}
		return resp.Bulk(cmd.Args[0]), false

	case "GET":
		if len(cmd.Args) != 1 {
			return wrongArity(cmd.Name), false
		}
		value, err := s.DB(*db).Get(string(cmd.Args[0]))
		if err != nil {
			return resp.NullBulk(), false
		}
		return resp.Bulk(value), false

	case "SET":
		if len(cmd.Args) != 2 {
			return wrongArity(cmd.Name), false
		}
		s.DB(*db).Set(string(cmd.Args[0]), cmd.Args[1])
		return resp.Status("OK"), false

	case "DEL":
		if len(cmd.Args) == 0 {
			return wrongArity(cmd.Name), false
		}
		removed := int64(0)
		for _, key := range cmd.Args {
			if existed, _ := s.DB(*db).Del(string(key)); existed {
				removed++
			}
		}
		return resp.Int(removed), false

	case "DBSIZE":
		return resp.Int(int64(s.DB(*db).Len())), false

	case "SELECT":
		if len(cmd.Args) != 1 {
			return wrongArity(cmd.Name), false
		}
		n, err := strconv.Atoi(string(cmd.Args[0]))
		if err != nil || n < 0 {
			return resp.Error("ERR invalid DB index"), false
		}
		*db = n
		return resp.Status("OK"), false

	case "LASTSAVE":
		return resp.Int(s.saveTim.Load()), false

	case "QUIT":
		return resp.Status("OK"), true

	default:
		return resp.Errorf("ERR unknown command '%s'", cmd.Name), false
	}
}

func wrongArity(name string) resp.Reply {
	return resp.Errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(name))
}
