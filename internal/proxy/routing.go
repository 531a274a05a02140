package proxy

import (
	"github.com/dreamware/shardis/internal/resp"
	"github.com/dreamware/shardis/internal/topology"
)

// Client-visible routing failures, phrased the way the proxy has always
// reported them.
const (
	msgNoShards     = "ERR No shards configured. ADDSHARD one first."
	msgShardFailure = "ERR Could not connect to the shard."
)

// shardFor resolves the owning shard for a key.
func (d *Dispatcher) shardFor(key []byte) (topology.Shard, error) {
	index, err := d.reg.ShardFor(key)
	if err != nil {
		return topology.Shard{}, err
	}
	sh, ok := d.reg.Shard(index)
	if !ok {
		// The shard list only grows, so an index from ShardFor is valid.
		return topology.Shard{}, topology.ErrNoShards
	}
	return sh, nil
}

// forward sends cmd to one endpoint, borrowing from the pool for each
// attempt. A transport failure releases the connection as unhealthy and,
// while attempts remain, retries on a fresh one. Backend error replies are
// not failures: the backend answered, and the reply is returned as-is.
func (d *Dispatcher) forward(ep topology.Endpoint, cmd resp.Command, attempts int) (resp.Reply, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := d.pool.Borrow(ep)
		if err != nil {
			d.log.Debug("borrow failed", "endpoint", ep.String(), "attempt", i+1, "error", err)
			lastErr = err
			continue
		}
		reply, err := conn.Do(cmd)
		if err != nil {
			d.pool.Release(conn, false)
			d.log.Debug("forward failed", "endpoint", ep.String(), "command", cmd.Name, "attempt", i+1, "error", err)
			lastErr = err
			continue
		}
		d.pool.Release(conn, true)
		return reply, nil
	}
	return resp.Reply{}, lastErr
}

// forwardRead tries the shard's primary with one retry, then each replica
// endpoint once. Replicas only ever serve reads; writes never take this
// path.
func (d *Dispatcher) forwardRead(sh topology.Shard, cmd resp.Command) (resp.Reply, error) {
	reply, err := d.forward(sh.Primary, cmd, 2)
	if err == nil {
		return reply, nil
	}
	for _, rep := range sh.Replicas {
		if reply, rerr := d.forward(rep, cmd, 1); rerr == nil {
			d.log.Debug("read served by replica", "endpoint", rep.String(), "command", cmd.Name)
			return reply, nil
		}
	}
	return resp.Reply{}, err
}

func (d *Dispatcher) onGet(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 1 {
		return resp.Error("ERR Expected> GET key"), false
	}
	sh, err := d.shardFor(args[0])
	if err != nil {
		return resp.Error(msgNoShards), false
	}
	reply, err := d.forwardRead(sh, resp.NewCommand("GET", args[0]))
	if err != nil {
		return resp.Error(msgShardFailure), false
	}
	return reply, false
}

func (d *Dispatcher) onSet(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 2 {
		return resp.Error("ERR Expected> SET key data"), false
	}
	sh, err := d.shardFor(args[0])
	if err != nil {
		return resp.Error(msgNoShards), false
	}
	reply, err := d.forward(sh.Primary, resp.NewCommand("SET", args[0], args[1]), 2)
	if err != nil {
		return resp.Error(msgShardFailure), false
	}
	return reply, false
}

// onDel deletes each key on its owning shard and reports the summed count.
// An unreachable shard aborts the command; keys already deleted on other
// shards stay deleted, which is the usual fan-out caveat.
func (d *Dispatcher) onDel(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) == 0 {
		return resp.Error("ERR Expected> DEL key [key ...]"), false
	}

	var removed int64
	for _, key := range args {
		sh, err := d.shardFor(key)
		if err != nil {
			return resp.Error(msgNoShards), false
		}
		reply, err := d.forward(sh.Primary, resp.NewCommand("DEL", key), 2)
		if err != nil {
			return resp.Error(msgShardFailure), false
		}
		switch reply.Kind {
		case resp.KindError:
			return reply, false
		case resp.KindInteger:
			removed += reply.Int
		}
	}
	return resp.Int(removed), false
}

// onLastSave reports the most recent LASTSAVE over every shard primary.
// Unreachable shards are skipped; with none reachable (or none registered)
// the answer is 0.
func (d *Dispatcher) onLastSave(_ *session, args [][]byte) (resp.Reply, bool) {
	if len(args) != 0 {
		return resp.Error("ERR Expected> LASTSAVE"), false
	}

	var latest int64
	for _, sh := range d.reg.Snapshot().Shards {
		reply, err := d.forward(sh.Primary, resp.NewCommand("LASTSAVE"), 1)
		if err != nil {
			continue
		}
		if reply.Kind == resp.KindInteger && reply.Int > latest {
			latest = reply.Int
		}
	}
	return resp.Int(latest), false
}
