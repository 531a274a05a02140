// Package topology models the proxy's view of the cluster: which shards
// exist, where each shard's primary and replica endpoints live, and which
// shard owns any given key.
//
// # Shard model
//
// A Shard is one backend store instance plus zero or more replicas. Shards
// are registered imperatively by the operator (the ADDSHARD command) and the
// shard list is append-only: shards are never removed or reordered for the
// lifetime of the process, because key placement depends on a shard's index.
// Topology lives only in memory and is rebuilt via ADDSHARD after a restart.
//
// # Key placement
//
// Keys map to shards through a fixed slot space: a key hashes (xxhash64) to
// one of 4096 slots, and the slot maps to a shard by modulo over the current
// shard count. The mapping is a pure function of the key bytes and the shard
// count, so any two proxies that registered the same shards in the same
// order route every key identically.
//
// # Replicaness
//
// Replicaness is the number of replica endpoints associated with a shard at
// the moment it is added; changing it never touches existing shards. Since
// ADDSHARD names a single endpoint, replica i of a new shard is derived from
// the primary as {host, port+1+i, db}: the operating convention is one store
// process per replica on the ports adjacent to its primary.
//
// # Concurrency
//
// A single Registry is shared by every client session. Reads (ShardFor,
// Shard, Snapshot) take a shared lock and run concurrently; the rare
// operator-driven mutations (AddShard, SetReplicaness) are exclusive.
package topology
