package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/shardis/internal/resp"
	"github.com/dreamware/shardis/internal/topology"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultDialTimeout    = 1 * time.Second
	DefaultOpTimeout      = 2 * time.Second
	DefaultMaxPerEndpoint = 8
)

// failingThreshold is the number of consecutive failures after which an
// endpoint is reported as failing.
const failingThreshold = 3

// Endpoint status values reported through Health.
const (
	StatusUnknown = "unknown"
	StatusHealthy = "healthy"
	StatusFailing = "failing"
)

// ErrUnavailable is returned by Borrow when an endpoint's connection slots
// stay exhausted for the whole operation timeout.
var ErrUnavailable = errors.New("backend unavailable")

// ErrPoolClosed is returned by Borrow after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// Config controls pool behavior. Zero fields take the package defaults.
type Config struct {
	DialTimeout    time.Duration // Limit on establishing a TCP connection
	OpTimeout      time.Duration // Deadline applied to each forwarded command
	MaxPerEndpoint int           // Connections per endpoint, idle plus borrowed
	Logger         *slog.Logger  // Destination for pool events
}

// EndpointHealth tracks the connection health of a single backend endpoint.
// Thread-safe: Protected by the pool's mutex when accessed.
type EndpointHealth struct {
	LastCheck        time.Time // Timestamp of the last dial or release verdict
	LastHealthy      time.Time // Timestamp of the last healthy verdict
	Status           string    // Current status: "healthy", "failing", "unknown"
	ConsecutiveFails int       // Failures since the last healthy verdict
}

// endpointState is the pool's bookkeeping for one endpoint. The slots
// channel is a counting semaphore: every live connection to the endpoint,
// idle or borrowed, holds one slot until it is discarded. Healthy releases
// park the connection on the idle channel, which doubles as the wakeup for
// borrowers waiting at the connection cap.
type endpointState struct {
	idle   chan *Conn
	slots  chan struct{}
	health EndpointHealth
}

// Pool hands out connections to backend endpoints.
// Thread-safe: All methods are safe for concurrent access.
type Pool struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	endpoints map[topology.Endpoint]*endpointState
	closed    bool
}

// New creates a pool with the given configuration, filling zero fields
// with defaults. The pool holds no connections until the first Borrow.
//
// Example:
//
//	pool := backend.New(backend.Config{OpTimeout: 500 * time.Millisecond})
//	defer pool.Close()
func New(cfg Config) *Pool {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.MaxPerEndpoint <= 0 {
		cfg.MaxPerEndpoint = DefaultMaxPerEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		cfg:       cfg,
		log:       cfg.Logger,
		endpoints: make(map[topology.Endpoint]*endpointState),
	}
}

// Borrow returns a connection to ep, reusing an idle one when available and
// dialing otherwise. The caller owns the connection exclusively until it
// hands it back through Release.
//
// Concurrent borrows against one endpoint open additional connections up to
// the per-endpoint limit. At the limit, Borrow waits up to the operation
// timeout for whichever comes first, a connection returned by a healthy
// Release or a slot freed by a discard, before failing with ErrUnavailable.
// Borrows against distinct endpoints proceed independently.
//
// Returns:
//   - *Conn: Connection ready for Do
//   - error: Dial failure, slot exhaustion, or ErrPoolClosed
func (p *Pool) Borrow(ep topology.Endpoint) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	st := p.state(ep)
	p.mu.Unlock()

	select {
	case c := <-st.idle:
		c.released.Store(false)
		return c, nil
	default:
	}

	// No idle connection: claim a slot for a fresh dial, or take the next
	// connection a borrower hands back, whichever is first.
	timer := time.NewTimer(p.cfg.OpTimeout)
	defer timer.Stop()
	select {
	case c := <-st.idle:
		c.released.Store(false)
		return c, nil
	case st.slots <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("%s: connection slots exhausted: %w", ep, ErrUnavailable)
	}

	c, err := p.dial(ep)
	if err != nil {
		<-st.slots
		p.noteFailure(ep)
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	return c, nil
}

// Release hands a borrowed connection back with the caller's health
// verdict. Healthy connections return to the endpoint's idle list; others
// are closed and discarded, and the endpoint's failure count grows.
//
// A caller that hit any error on the connection must release it unhealthy:
// after a failed or timed-out exchange the stream position is unknown and
// the connection cannot carry another command.
//
// Releasing the same connection twice is a caller bug; the second release is
// ignored so it cannot free a slot token belonging to another connection.
func (p *Pool) Release(c *Conn, healthy bool) {
	if c == nil || c.released.Swap(true) {
		return
	}

	p.mu.Lock()
	st := p.state(c.ep)
	if healthy && !p.closed {
		p.noteSuccessLocked(st, c.ep)
		// Never blocks: the idle channel has one seat per slot and every
		// live connection holds a slot. A borrower waiting at the cap
		// receives the connection directly from here.
		st.idle <- c
		p.mu.Unlock()
		return
	}
	if !healthy {
		p.noteFailureLocked(st, c.ep)
	}
	p.mu.Unlock()

	c.close()
	<-st.slots
}

// Health returns a copy of the tracked health state for ep. Endpoints the
// pool has never dialed report StatusUnknown.
func (p *Pool) Health(ep topology.Endpoint) EndpointHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.endpoints[ep]
	if !ok {
		return EndpointHealth{Status: StatusUnknown}
	}
	return st.health
}

// Failing reports whether ep has crossed the consecutive-failure threshold
// without recovering.
func (p *Pool) Failing(ep topology.Endpoint) bool {
	return p.Health(ep).Status == StatusFailing
}

// Close discards all idle connections and fails subsequent borrows.
// Connections still borrowed are closed as they come back.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var conns []*Conn
	for _, st := range p.endpoints {
	drain:
		for {
			select {
			case c := <-st.idle:
				conns = append(conns, c)
			default:
				break drain
			}
		}
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// state returns the bookkeeping entry for ep, creating it on first use.
// Caller must hold p.mu.
func (p *Pool) state(ep topology.Endpoint) *endpointState {
	st, ok := p.endpoints[ep]
	if !ok {
		st = &endpointState{
			idle:   make(chan *Conn, p.cfg.MaxPerEndpoint),
			slots:  make(chan struct{}, p.cfg.MaxPerEndpoint),
			health: EndpointHealth{Status: StatusUnknown},
		}
		p.endpoints[ep] = st
	}
	return st
}

// dial establishes a fresh connection to ep and, when the endpoint names a
// database, selects it before the connection is handed out.
func (p *Pool) dial(ep topology.Endpoint) (*Conn, error) {
	p.log.Debug("dialing backend", "endpoint", ep.String())

	tc, err := net.DialTimeout("tcp", ep.Addr(), p.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ep:        ep,
		tc:        tc,
		r:         resp.NewReader(tc),
		w:         resp.NewWriter(tc),
		opTimeout: p.cfg.OpTimeout,
	}

	if ep.DB > 0 {
		reply, err := c.Do(resp.NewCommand("SELECT", []byte(strconv.Itoa(ep.DB))))
		if err != nil {
			c.close()
			return nil, fmt.Errorf("select db %d: %w", ep.DB, err)
		}
		if reply.Kind == resp.KindError {
			c.close()
			return nil, fmt.Errorf("select db %d: %s", ep.DB, reply.Str)
		}
	}
	return c, nil
}

func (p *Pool) noteFailure(ep topology.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noteFailureLocked(p.state(ep), ep)
}

// noteFailureLocked records one failed dial or exchange. Caller must hold
// p.mu.
func (p *Pool) noteFailureLocked(st *endpointState, ep topology.Endpoint) {
	st.health.LastCheck = time.Now()
	st.health.ConsecutiveFails++
	if st.health.ConsecutiveFails >= failingThreshold {
		if st.health.Status != StatusFailing {
			p.log.Warn("backend endpoint marked failing",
				"endpoint", ep.String(),
				"consecutive_fails", st.health.ConsecutiveFails)
		}
		st.health.Status = StatusFailing
	}
}

// noteSuccessLocked records one healthy release. Caller must hold p.mu.
func (p *Pool) noteSuccessLocked(st *endpointState, ep topology.Endpoint) {
	if st.health.Status == StatusFailing {
		p.log.Info("backend endpoint recovered", "endpoint", ep.String())
	}
	st.health.LastCheck = time.Now()
	st.health.LastHealthy = st.health.LastCheck
	st.health.Status = StatusHealthy
	st.health.ConsecutiveFails = 0
}

// Conn is one live connection to a backend endpoint, carrying its own
// protocol reader and writer. A Conn has a single borrower at a time.
type Conn struct {
	ep        topology.Endpoint
	tc        net.Conn
	r         *resp.Reader
	w         *resp.Writer
	opTimeout time.Duration
	released  atomic.Bool // set while handed back to the pool
}

// Endpoint returns the endpoint this connection serves.
func (c *Conn) Endpoint() topology.Endpoint { return c.ep }

// Do forwards one command and reads its reply, bounded by the operation
// timeout. Any error, timeout included, means the connection is no longer
// usable and must be released unhealthy.
//
// A backend replying with an error reply is not a Do failure: the reply
// comes back with Kind KindError and a nil error, and the connection stays
// usable.
func (c *Conn) Do(cmd resp.Command) (resp.Reply, error) {
	if c.opTimeout > 0 {
		if err := c.tc.SetDeadline(time.Now().Add(c.opTimeout)); err != nil {
			return resp.Reply{}, err
		}
	}
	if err := c.w.WriteCommand(cmd); err != nil {
		return resp.Reply{}, err
	}
	if err := c.w.Flush(); err != nil {
		return resp.Reply{}, err
	}
	return c.r.ReadReply()
}

func (c *Conn) close() error { return c.tc.Close() }
