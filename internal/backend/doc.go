// Package backend manages the proxy's connections to backend store
// endpoints: lazy dialing, reuse, per-endpoint connection limits, and the
// health accounting behind INFO's status report.
//
// # Overview
//
// The Pool is keyed by endpoint, not by shard. A shard names a primary and
// optionally replica endpoints; whichever of them a command is routed to,
// the pool either hands back an idle connection to that endpoint or dials a
// new one within the dial timeout. Nothing is dialed before the first
// command needs the endpoint.
//
// # Borrow / Release
//
// A connection has a single borrower at a time. The borrower runs one or
// more command exchanges through Conn.Do, then returns the connection with
// an explicit health verdict:
//
//	conn, err := pool.Borrow(ep)
//	if err != nil { ... }
//	reply, err := conn.Do(cmd)
//	pool.Release(conn, err == nil)
//
// Releasing healthy parks the connection for reuse. Releasing unhealthy
// closes and discards it, frees its slot, and counts a failure against the
// endpoint. Retry policy belongs to the caller: the pool never probes
// endpoints on its own and never retries a dial.
//
// # Limits
//
// Each endpoint holds at most MaxPerEndpoint connections, idle and borrowed
// together. When all slots are taken, Borrow waits up to the operation
// timeout for a connection to be released healthy or for a discard to free
// a slot, and fails with ErrUnavailable only if neither happens. Distinct
// endpoints share nothing but the pool lock, so slow or dead endpoints do
// not stall traffic to the rest.
//
// # Health
//
// Every dial failure and unhealthy release increments the endpoint's
// consecutive-failure count; any healthy release resets it. An endpoint
// crossing the failure threshold is reported as failing until a connection
// to it succeeds again. The status feeds the one-character-per-shard status
// line served by INFO.
//
// # Endpoint databases
//
// An endpoint can name a database index. Dialing such an endpoint issues
// SELECT before the connection is handed out, so every command forwarded on
// it operates on the right database.
package backend
