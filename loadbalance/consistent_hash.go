package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"time"

	"gpcp/endpoint"
	"gpcp/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance (until the ring changes),
// providing cache affinity — useful for stateful services or local caches.
//
// Unlike RoundRobinBalancer/WeightedRandomBalancer, which re-filter the
// Discover result on every Pick, the ring here is built once (via Add) and
// walked on every Pick, so role compatibility is enforced at insertion time
// — localRole is fixed for the balancer's lifetime, set once in
// NewConsistentHashBalancer — and staleness is rechecked at lookup time,
// since an instance already on the ring can go stale between two Picks
// without Add/Remove ever being called again.
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 instances might cluster together on the ring,
// causing uneven load distribution. 100 virtual nodes per instance ensures
// statistical uniformity.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	localRole endpoint.Role // only instances compatible with this role are ever added to the ring
	replicas  int           // Virtual nodes per real instance
	ring      []uint32      // Sorted hash values on the ring
	nodes     map[uint32]*registry.Instance
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per
// instance, accepting only instances whose Role can validly pair with
// localRole.
func NewConsistentHashBalancer(localRole endpoint.Role) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		localRole: localRole,
		replicas:  100,
		ring:      []uint32{},
		nodes:     make(map[uint32]*registry.Instance),
	}
}

// Add places an instance onto the hash ring with N virtual nodes, unless its
// advertised Role can never negotiate with localRole (the handshake's role
// pairing invariant), in which case Add is a no-op and reports false.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
func (b *ConsistentHashBalancer) Add(instance *registry.Instance) bool {
	if !registry.Compatible(b.localRole, instance.Role) {
		return false
	}
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	// Keep the ring sorted for binary search in Pick()
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
	return true
}

// Remove evicts every virtual node belonging to addr, e.g. once Watch
// reports the instance deregistered. A no-op if addr was never added.
func (b *ConsistentHashBalancer) Remove(addr string) {
	kept := b.ring[:0]
	for _, hash := range b.ring {
		if node, ok := b.nodes[hash]; ok && node.Addr == addr {
			delete(b.nodes, hash)
			continue
		}
		kept = append(kept, hash)
	}
	b.ring = kept
}

// Pick finds the instance responsible for the given key.
// It hashes the key, then binary-searches for the first node >= hash on the
// ring, walking forward past any instance whose heartbeat has gone stale
// since it was added — a stale node is still on the ring (Remove is driven
// by Watch, not by every Pick), but it is never the answer.
//
// Note: Pick takes a string key (not []registry.Instance) because
// consistent hashing is key-based — it doesn't implement the Balancer
// interface directly.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.Instance, error) {
	if len(b.ring) == 0 {
		return nil, errNoUsableInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	start := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if start == len(b.ring) {
		start = 0
	}

	now := time.Now()
	for step := 0; step < len(b.ring); step++ {
		idx := (start + step) % len(b.ring)
		node := b.nodes[b.ring[idx]]
		if node.Fresh(now) {
			return node, nil
		}
	}
	return nil, errNoUsableInstances
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
