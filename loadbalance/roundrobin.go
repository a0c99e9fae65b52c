package loadbalance

import (
	"sync/atomic"

	"gpcp/endpoint"
	"gpcp/registry"
)

// RoundRobinBalancer distributes calls evenly across all role-compatible,
// non-stale instances in order. Uses an atomic counter for lock-free,
// goroutine-safe operation.
//
// Best for: peers with similar capacity.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

// Pick selects the next instance in round-robin order among those that can
// validly negotiate with localRole and haven't gone stale. The atomic
// counter ensures even distribution without locks.
func (b *RoundRobinBalancer) Pick(instances []registry.Instance, localRole endpoint.Role) (*registry.Instance, error) {
	candidates := usable(instances, localRole)
	if len(candidates) == 0 {
		return nil, errNoUsableInstances
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(candidates))
	return &candidates[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
