// Package loadbalance provides load balancing strategies for distributing
// calls across multiple discovered peers.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity peers
//   - WeightedRandom:  heterogeneous peers (different CPU/memory)
//   - ConsistentHash:  calls that need affinity to the same peer
//
// All three pick among a *usable* subset of what Discover returned, not the
// raw list: the role-pairing invariant means an instance whose advertised
// role can never negotiate with the caller's own role is not a candidate at
// all, and a lapsed heartbeat (registry.Instance.Fresh) means the instance
// is probably already dead. RoundRobin and WeightedRandom share the usable
// filter below; ConsistentHash checks role compatibility in Add and
// freshness in its own Pick.
package loadbalance

import (
	"fmt"
	"time"

	"gpcp/endpoint"
	"gpcp/registry"
)

// Balancer is the interface for load balancing strategies.
// A discovery-aware client calls Pick() before each call to select a target
// peer compatible with localRole.
type Balancer interface {
	// Pick selects one instance from the available list whose advertised
	// role can validly pair with localRole and whose heartbeat is still
	// fresh. Called on every call — must be goroutine-safe.
	Pick(instances []registry.Instance, localRole endpoint.Role) (*registry.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// usable narrows instances to those role-compatible with localRole and not
// stale, per registry.Compatible/Instance.Fresh. If every instance is
// filtered out by staleness alone (e.g. a registry implementation that
// doesn't track heartbeats yet, or a monitoring gap), it falls back to the
// role-compatible set rather than reporting zero candidates — a clock-skew
// or instrumentation gap should degrade gracefully, not take discovery
// offline.
func usable(instances []registry.Instance, localRole endpoint.Role) []registry.Instance {
	now := time.Now()
	compatible := make([]registry.Instance, 0, len(instances))
	for _, inst := range instances {
		if registry.Compatible(localRole, inst.Role) {
			compatible = append(compatible, inst)
		}
	}

	fresh := make([]registry.Instance, 0, len(compatible))
	for _, inst := range compatible {
		if inst.Fresh(now) {
			fresh = append(fresh, inst)
		}
	}
	if len(fresh) == 0 {
		return compatible
	}
	return fresh
}

var errNoUsableInstances = fmt.Errorf("loadbalance: no role-compatible, non-stale instances available")
