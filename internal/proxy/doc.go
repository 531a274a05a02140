// Package proxy implements the client-facing half of shardis: a TCP server
// speaking the Redis wire protocol, a per-connection session loop, and the
// command dispatcher that routes key-bearing commands to backend shards.
//
// The proxy is the piece clients connect to. It looks like a single store;
// behind it, keys are spread over the shards registered at runtime with
// ADDSHARD.
//
// Architecture:
//
//	┌─────────────────────────────────────────────┐
//	│                  Server                     │
//	├─────────────────────────────────────────────┤
//	│  accept loop → one session goroutine per    │
//	│  client connection                          │
//	├─────────────────────────────────────────────┤
//	│  session: read command → dispatch → reply   │
//	│    resp.Reader / resp.Writer per session    │
//	│    auth state per session                   │
//	├─────────────────────────────────────────────┤
//	│  Dispatcher:                                │
//	│    local commands    - served in-process    │
//	│    routed commands   - forwarded to shards  │
//	│    topology.Registry - key → shard          │
//	│    backend.Pool      - pooled connections   │
//	└─────────────────────────────────────────────┘
//
// Command surface:
//
//	Local:  ADDSHARD, SETREPLICANESS, CONFIG SET, INFO, PING, ECHO,
//	        TIME, AUTH, QUIT
//	Routed: GET (replica-eligible read), SET (primary-only write),
//	        DEL (primary-only write, fanned out per key),
//	        LASTSAVE (read fanned out over every shard)
//
// Routing policy:
//
//	Writes go to the owning shard's primary endpoint and are retried once
//	on a fresh connection before the client sees
//	"ERR Could not connect to the shard.". Reads try the primary the same
//	way, then fall back to each replica endpoint once. A backend that
//	answers with an error reply has answered; error replies are relayed
//	to the client verbatim and never retried. Only transport failures
//	(dial, deadline, broken connection) trigger retries, and each one is
//	reported to the pool so endpoint health converges.
//
// Sessions are independent: each owns its connection, decode buffer and
// auth state, and a malformed request or backend failure on one session
// never disturbs another. A panic while handling a command is contained
// to that request; the client receives "ERR Internal server error." and
// the session keeps serving.
//
// Server.Close stops the accept loop, closes every live session and waits
// for their goroutines to drain, so a clean shutdown cannot leak
// connections.
package proxy
