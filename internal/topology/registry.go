package topology

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/slices"
)

// SlotCount is the size of the fixed slot space keys hash into. The slot
// mask predates the shard count and must never change: it is what keeps the
// key→shard mapping stable as shards are appended.
const SlotCount = slotMask + 1

const slotMask = 0xFFF

// Errors reported by registry operations.
var (
	// ErrNoShards is returned when a key-bearing command arrives before any
	// ADDSHARD.
	ErrNoShards = errors.New("no shards configured")

	// ErrInvalidEndpoint is returned for syntactically invalid ADDSHARD
	// arguments.
	ErrInvalidEndpoint = errors.New("invalid shard endpoint")

	// ErrInvalidReplicaness is returned for a negative replicaness.
	ErrInvalidReplicaness = errors.New("replicaness must be non-negative")
)

// Endpoint identifies one reachable store instance. Immutable and
// comparable, so the connection pool can key its per-endpoint state on it.
type Endpoint struct {
	Host string
	Port int
	DB   int
}

// Addr returns the dialable "host:port" form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns the "host:port/db" form used in INFO output and logs.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d/%d", e.Host, e.Port, e.DB)
}

// Shard is one registered backend: a primary endpoint plus the replica
// endpoints assigned when the shard was added.
type Shard struct {
	Primary  Endpoint
	Replicas []Endpoint
}

// clone returns a deep copy so callers can hold shard data without racing
// the registry.
func (s Shard) clone() Shard {
	return Shard{Primary: s.Primary, Replicas: slices.Clone(s.Replicas)}
}

// Topology is a point-in-time copy of the registry's state.
type Topology struct {
	Shards      []Shard
	Replicaness int
}

// Registry holds the process-wide shard topology. One instance is shared by
// all sessions; see the package documentation for the locking discipline.
type Registry struct {
	mu          sync.RWMutex
	shards      []Shard
	replicaness int
}

// NewRegistry returns an empty registry with replicaness 0.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddShard validates the endpoint, derives replica endpoints per the current
// replicaness, appends the shard and returns its index. Connections are not
// established here; the pool dials lazily on first use.
func (r *Registry) AddShard(host string, port, db int) (int, error) {
	if err := validateEndpoint(host, port, db); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	replicas := make([]Endpoint, 0, r.replicaness)
	for i := 0; i < r.replicaness; i++ {
		rp := port + 1 + i
		if rp > maxPort {
			return 0, fmt.Errorf("%w: replica port %d out of range", ErrInvalidEndpoint, rp)
		}
		replicas = append(replicas, Endpoint{Host: host, Port: rp, DB: db})
	}

	r.shards = append(r.shards, Shard{
		Primary:  Endpoint{Host: host, Port: port, DB: db},
		Replicas: replicas,
	})
	return len(r.shards) - 1, nil
}

// SetReplicaness sets the replica count applied to shards added from now on.
// Existing shards keep the replica sets they were created with.
func (r *Registry) SetReplicaness(n int) error {
	if n < 0 {
		return ErrInvalidReplicaness
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replicaness = n
	return nil
}

// Replicaness returns the replica count currently applied to new shards.
func (r *Registry) Replicaness() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replicaness
}

// Len returns the number of registered shards.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shards)
}

// ShardFor maps a key to the index of its owning shard. The result depends
// only on the key bytes and the shard count. The shard list never shrinks or
// reorders, so a key's mapping moves only when a new shard is added.
func (r *Registry) ShardFor(key []byte) (int, error) {
	r.mu.RLock()
	n := len(r.shards)
	r.mu.RUnlock()

	if n == 0 {
		return 0, ErrNoShards
	}
	return SlotFor(key) % n, nil
}

// SlotFor hashes a key into the fixed slot space.
func SlotFor(key []byte) int {
	return int(xxhash.Sum64(key) & slotMask)
}

// Shard returns a copy of the shard at index i. ok is false when i has never
// been assigned, which for indexes obtained from ShardFor cannot happen.
func (r *Registry) Shard(i int) (Shard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i < 0 || i >= len(r.shards) {
		return Shard{}, false
	}
	return r.shards[i].clone(), true
}

// Snapshot returns a deep copy of the whole topology for INFO assembly and
// fan-out commands, taken under a single read lock.
func (r *Registry) Snapshot() Topology {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shards := make([]Shard, 0, len(r.shards))
	for _, s := range r.shards {
		shards = append(shards, s.clone())
	}
	return Topology{Shards: shards, Replicaness: r.replicaness}
}

const maxPort = 65535

func validateEndpoint(host string, port, db int) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if strings.ContainsAny(host, " \t\r\n/") {
		return fmt.Errorf("%w: host %q", ErrInvalidEndpoint, host)
	}
	if port < 1 || port > maxPort {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, port)
	}
	if db < 0 {
		return fmt.Errorf("%w: negative db %d", ErrInvalidEndpoint, db)
	}
	return nil
}
