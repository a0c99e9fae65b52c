// Package registry defines the peer discovery interface and data types used
// by the optional discovery layer. It sits above the bare host:port endpoint
// contract: an endpoint never requires a registry, but a server or client
// may opt into one.
//
// Instead of hardcoding host:port, servers register themselves in a central
// registry (etcd), and clients query the registry to find available peers.
// Unlike a plain service-address phonebook, what an entry advertises here is
// specifically an endpoint.Role: at most one of two paired GPCP endpoints
// may hold role R, and at most one may hold role A — two responders or two
// requesters can never complete a handshake — so that invariant belongs in
// discovery's data model rather than being discovered the hard way after a
// failed negotiation.
package registry

import (
	"time"

	"gpcp/endpoint"
)

// StaleAfter is how long an instance may go without a heartbeat refresh
// before Fresh reports it as probably dead — generous
// enough to absorb a missed lease renewal or GC pause without flapping, but
// short enough that an instance whose process hung minutes ago is not
// dialed just because its lease briefly lingers.
const StaleAfter = 30 * time.Second

// Instance represents a single reachable GPCP endpoint: the role it
// negotiates (so a requester-only caller never wastes a dial on another
// requester-only peer), plus the usual address/weight/version metadata for
// load balancing.
type Instance struct {
	Addr    string        // Network address, e.g., "127.0.0.1:8080"
	Role    endpoint.Role // role this instance negotiates on accept (R/A/AR/RA)
	Weight  int           // Weight for load balancing (higher = more traffic)
	Version string        // Namespace/handler version, for canary rollouts

	// LastHeartbeat is refreshed by EtcdRegistry each time the instance's
	// lease is renewed (see etcd_registry.go's KeepAlive loop). A zero
	// value means the registry implementation doesn't track heartbeats
	// (e.g. a test fake), in which case Fresh treats the entry
	// as unknown-but-usable rather than stale.
	LastHeartbeat time.Time
}

// Fresh reports whether instance has renewed its heartbeat within
// StaleAfter. An instance with no recorded heartbeat (LastHeartbeat is the
// zero value) is treated as fresh: some Registry implementations or test
// fakes never populate it, and an unknown heartbeat should not be
// indistinguishable from a dead one.
func (i Instance) Fresh(now time.Time) bool {
	if i.LastHeartbeat.IsZero() {
		return true
	}
	return now.Sub(i.LastHeartbeat) <= StaleAfter
}

// Compatible reports whether an endpoint declaring localRole may validly
// pair with an instance advertising remoteRole: two requesters (A/A) or two
// responders (R/R) can never complete negotiation, so discovery should
// filter them out before ever dialing rather than let the handshake fail
// after a wasted connection. An
// instance with no recorded Role (the zero value, e.g. an older entry or a
// minimal test fake) is treated as compatible with anything — discovery
// degrades to "try it and let negotiation decide" rather than silently
// excluding every un-annotated instance.
func Compatible(localRole, remoteRole endpoint.Role) bool {
	if remoteRole == "" {
		return true
	}
	if localRole == endpoint.RoleResponder && remoteRole == endpoint.RoleResponder {
		return false
	}
	if localRole == endpoint.RoleRequester && remoteRole == endpoint.RoleRequester {
		return false
	}
	return true
}

// Registry is the interface for peer registration and discovery.
// Implementations include EtcdRegistry (production) and any in-memory fake
// used for testing.
type Registry interface {
	// Register adds an instance to the registry under a TTL lease. The
	// entry is automatically removed if KeepAlive stops (e.g. the process
	// crashes before deregistering).
	Register(namespace string, instance Instance, ttl int64) error

	// Deregister removes an instance from the registry. Called during
	// graceful shutdown before closing the listener.
	Deregister(namespace string, addr string) error

	// Discover returns all currently registered instances for a namespace.
	// A client calls this to get the candidate list for load balancing,
	// then narrows it with Compatible/Fresh before picking one.
	Discover(namespace string) ([]Instance, error)

	// Watch returns a channel that emits updated instance lists whenever
	// a namespace's instances change (new registrations, removals, lease
	// expirations). This enables real-time discovery without polling.
	Watch(namespace string) <-chan []Instance
}
