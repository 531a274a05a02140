package topology

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// TestAddShard tests shard registration and index assignment
func TestAddShard(t *testing.T) {
	r := NewRegistry()

	idx, err := r.AddShard("127.0.0.1", 6380, 0)
	if err != nil {
		t.Fatalf("AddShard() error = %v", err)
	}
	if idx != 0 {
		t.Errorf("first shard index = %d, want 0", idx)
	}

	idx, err = r.AddShard("127.0.0.1", 6390, 1)
	if err != nil {
		t.Fatalf("AddShard() error = %v", err)
	}
	if idx != 1 {
		t.Errorf("second shard index = %d, want 1", idx)
	}

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	s, ok := r.Shard(0)
	if !ok {
		t.Fatal("Shard(0) not found")
	}
	want := Endpoint{Host: "127.0.0.1", Port: 6380, DB: 0}
	if s.Primary != want {
		t.Errorf("Shard(0).Primary = %v, want %v", s.Primary, want)
	}
	if len(s.Replicas) != 0 {
		t.Errorf("Shard(0) has %d replicas, want 0 at replicaness 0", len(s.Replicas))
	}
}

// TestAddShardValidation tests rejection of syntactically invalid endpoints
func TestAddShardValidation(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		db   int
	}{
		{name: "empty host", host: "", port: 6380, db: 0},
		{name: "host with whitespace", host: "local host", port: 6380, db: 0},
		{name: "zero port", host: "127.0.0.1", port: 0, db: 0},
		{name: "negative port", host: "127.0.0.1", port: -1, db: 0},
		{name: "port above range", host: "127.0.0.1", port: 70000, db: 0},
		{name: "negative db", host: "127.0.0.1", port: 6380, db: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if _, err := r.AddShard(tt.host, tt.port, tt.db); !errors.Is(err, ErrInvalidEndpoint) {
				t.Errorf("AddShard(%q, %d, %d) error = %v, want ErrInvalidEndpoint",
					tt.host, tt.port, tt.db, err)
			}
			if r.Len() != 0 {
				t.Errorf("rejected shard was appended, Len() = %d", r.Len())
			}
		})
	}
}

// TestReplicaDerivation tests that new shards pick up the replicaness in
// force and derive replica endpoints on adjacent ports
func TestReplicaDerivation(t *testing.T) {
	r := NewRegistry()

	if _, err := r.AddShard("10.0.0.1", 6380, 0); err != nil {
		t.Fatalf("AddShard() error = %v", err)
	}

	if err := r.SetReplicaness(2); err != nil {
		t.Fatalf("SetReplicaness(2) error = %v", err)
	}

	idx, err := r.AddShard("10.0.0.2", 7000, 3)
	if err != nil {
		t.Fatalf("AddShard() error = %v", err)
	}

	// The new shard carries two replicas on the ports after its primary.
	s, _ := r.Shard(idx)
	if len(s.Replicas) != 2 {
		t.Fatalf("new shard has %d replicas, want 2", len(s.Replicas))
	}
	wantFirst := Endpoint{Host: "10.0.0.2", Port: 7001, DB: 3}
	wantSecond := Endpoint{Host: "10.0.0.2", Port: 7002, DB: 3}
	if s.Replicas[0] != wantFirst || s.Replicas[1] != wantSecond {
		t.Errorf("replicas = %v, want [%v %v]", s.Replicas, wantFirst, wantSecond)
	}

	// The pre-existing shard is untouched: replicaness is forward-only.
	s0, _ := r.Shard(0)
	if len(s0.Replicas) != 0 {
		t.Errorf("existing shard gained %d replicas after SetReplicaness", len(s0.Replicas))
	}
}

// TestReplicaPortOverflow tests that replica derivation cannot run past the
// valid port range
func TestReplicaPortOverflow(t *testing.T) {
	r := NewRegistry()
	if err := r.SetReplicaness(1); err != nil {
		t.Fatalf("SetReplicaness(1) error = %v", err)
	}
	if _, err := r.AddShard("127.0.0.1", 65535, 0); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("AddShard at port 65535 with replicaness 1: error = %v, want ErrInvalidEndpoint", err)
	}
}

// TestSetReplicaness tests the accepted range
func TestSetReplicaness(t *testing.T) {
	r := NewRegistry()

	if err := r.SetReplicaness(0); err != nil {
		t.Errorf("SetReplicaness(0) error = %v, want nil", err)
	}
	if err := r.SetReplicaness(3); err != nil {
		t.Errorf("SetReplicaness(3) error = %v, want nil", err)
	}
	if r.Replicaness() != 3 {
		t.Errorf("Replicaness() = %d, want 3", r.Replicaness())
	}
	if err := r.SetReplicaness(-1); !errors.Is(err, ErrInvalidReplicaness) {
		t.Errorf("SetReplicaness(-1) error = %v, want ErrInvalidReplicaness", err)
	}
	if r.Replicaness() != 3 {
		t.Errorf("rejected value was applied, Replicaness() = %d", r.Replicaness())
	}
}

// TestShardForEmpty tests that routing fails before the first ADDSHARD
func TestShardForEmpty(t *testing.T) {
	r := NewRegistry()
	if _, err := r.ShardFor([]byte("foo")); !errors.Is(err, ErrNoShards) {
		t.Errorf("ShardFor on empty registry error = %v, want ErrNoShards", err)
	}
}

// TestShardForDeterministic tests that the mapping is stable across calls
// and across independently built registries with the same shard count
func TestShardForDeterministic(t *testing.T) {
	keys := [][]byte{
		[]byte("foo"),
		[]byte("bar"),
		[]byte(""),
		[]byte("a\x00b"),
		[]byte("user:12345"),
	}

	for _, count := range []int{1, 2, 3, 7} {
		a := NewRegistry()
		b := NewRegistry()
		for i := 0; i < count; i++ {
			// Different hosts on the two registries: only the count matters.
			a.AddShard("10.0.0.1", 6380+10*i, 0)
			b.AddShard("10.9.9.9", 7000+10*i, 2)
		}

		for _, key := range keys {
			got, err := a.ShardFor(key)
			if err != nil {
				t.Fatalf("ShardFor(%q) error = %v", key, err)
			}
			if got < 0 || got >= count {
				t.Errorf("ShardFor(%q) = %d, out of [0, %d)", key, got, count)
			}
			again, _ := a.ShardFor(key)
			if got != again {
				t.Errorf("ShardFor(%q) unstable: %d then %d", key, got, again)
			}
			other, _ := b.ShardFor(key)
			if got != other {
				t.Errorf("ShardFor(%q) differs across registries: %d vs %d", key, got, other)
			}
		}
	}
}

// TestShardForSpread tests that many distinct keys land on every shard;
// a mapping that starves shards would defeat the point of sharding
func TestShardForSpread(t *testing.T) {
	r := NewRegistry()
	const shards = 4
	for i := 0; i < shards; i++ {
		r.AddShard("127.0.0.1", 6380+10*i, 0)
	}

	hits := make([]int, shards)
	for i := 0; i < 4096; i++ {
		idx, err := r.ShardFor([]byte(fmt.Sprintf("key:%d", i)))
		if err != nil {
			t.Fatalf("ShardFor() error = %v", err)
		}
		hits[idx]++
	}

	for i, n := range hits {
		if n == 0 {
			t.Errorf("shard %d received no keys", i)
		}
	}
}

// TestSnapshotIsolation tests that Snapshot returns copies detached from
// the registry's state
func TestSnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	r.SetReplicaness(1)
	r.AddShard("127.0.0.1", 6380, 0)

	snap := r.Snapshot()
	if len(snap.Shards) != 1 || snap.Replicaness != 1 {
		t.Fatalf("Snapshot() = %+v", snap)
	}

	// Mutating the snapshot must not reach the registry.
	snap.Shards[0].Replicas[0].Port = 1
	s, _ := r.Shard(0)
	if s.Replicas[0].Port == 1 {
		t.Error("snapshot mutation visible through the registry")
	}
}

// TestConcurrentAccess tests readers running against a writer; run with -race
func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	r.AddShard("127.0.0.1", 6380, 0)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := r.ShardFor([]byte("foo")); err != nil {
					t.Errorf("ShardFor() error = %v", err)
					return
				}
				r.Snapshot()
				r.Replicaness()
			}
		}()
	}

	for i := 0; i < 32; i++ {
		if i%8 == 0 {
			r.SetReplicaness(i % 3)
		}
		if _, err := r.AddShard("127.0.0.1", 7000+10*i, 0); err != nil {
			t.Fatalf("AddShard() error = %v", err)
		}
	}
	close(stop)
	wg.Wait()

	if r.Len() != 33 {
		t.Errorf("Len() = %d, want 33", r.Len())
	}
}
