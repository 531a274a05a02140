// Package backendtest runs real backend store servers inside the test
// process, so proxy behavior can be exercised end to end without external
// redis-server processes.
//
// A Server listens on a real localhost TCP port and speaks the wire
// protocol: GET, SET, DEL, DBSIZE, SELECT, LASTSAVE, PING, ECHO and QUIT,
// backed by one storage.MemoryStore per database index. Tests reach the
// data directly through DB to assert what a routed command actually wrote.
//
// Failure injection mirrors what operations sees in production:
//   - Close stops the server entirely; subsequent dials are refused.
//   - CloseClientConnections severs live connections while the listener
//     stays up, which turns pooled proxy connections stale.
//   - DropNext closes the next accepted connections right away, failing a
//     fresh dial's first exchange.
//   - SetReplyDelay delays replies past a deadline to force timeouts.
//
// StartAdjacent reserves a run of consecutive ports, matching the replica
// layout where a replica listens one port above its primary.
package backendtest
