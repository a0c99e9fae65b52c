// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd is a distributed key-value store that provides strong consistency (Raft protocol).
// We use it as a "distributed phonebook" for peers:
//
//	Key:   /gpcp/{namespace}/{Addr}
//	Value: JSON-encoded Instance, heartbeat-stamped on every lease renewal
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is automatically removed — preventing "ghost" instances. On top
// of that lease-expiry liveness, each renewal also re-stamps and re-Puts the
// stored Instance's LastHeartbeat, so Discover callers can tell a recently
// confirmed-alive peer from one that's merely inside its TTL grace window —
// the gap Instance.Fresh (see registry.go) exists to close.
package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register adds a peer instance to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease, re-stamping and
//     re-Putting the instance's LastHeartbeat on every renewal
//
// Note: leaseID is a local variable, NOT stored on the struct.
// This prevents a data race when multiple servers share one EtcdRegistry instance
// (discovered via `go test -race`).
func (r *EtcdRegistry) Register(namespace string, instance Instance, ttl int64) error {
	ctx := context.TODO()
	key := "/gpcp/" + namespace + "/" + instance.Addr

	// Create a TTL-based lease — if KeepAlive stops, the entry auto-expires
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	instance.LastHeartbeat = time.Now()
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	// Store in etcd: key = /gpcp/{namespace}/{addr}, value = JSON metadata
	_, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Start background lease renewal — KeepAlive sends heartbeats to etcd
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Every renewal response re-stamps LastHeartbeat and re-Puts the value,
	// so a Discover call a moment later sees freshness, not just "still
	// inside the TTL window" (the lease alone can't tell the two apart;
	// an instance whose process hung without crashing keeps its lease
	// alive but never renews this value).
	go func() {
		for resp := range ch {
			if resp == nil {
				continue
			}
			instance.LastHeartbeat = time.Now()
			refreshed, err := json.Marshal(instance)
			if err != nil {
				continue
			}
			r.client.Put(ctx, key, string(refreshed), clientv3.WithLease(lease.ID))
		}
	}()
	return nil
}

// Deregister removes a peer instance from etcd.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(namespace string, addr string) error {
	ctx := context.TODO()
	_, err := r.client.Delete(ctx, "/gpcp/"+namespace+"/"+addr)
	if err != nil {
		return err
	}
	return nil
}

// Watch monitors a namespace prefix in etcd and emits updated instance lists
// whenever changes occur (new registrations, deregistrations, lease expirations,
// or heartbeat refreshes).
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(namespace string) <-chan []Instance {
	ctx := context.TODO()
	ch := make(chan []Instance, 1)
	prefix := "/gpcp/" + namespace + "/"

	go func() {
		// Watch all keys under the namespace prefix
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full instance list
			// (simpler than parsing individual watch events)
			instances, _ := r.Discover(namespace)
			ch <- instances
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a namespace.
// Queries etcd with a key prefix to find all instances under /gpcp/{namespace}/.
// Callers pick among the result with registry.Compatible and Instance.Fresh
// before dialing, rather than this layer pre-filtering — Discover reports
// what's registered, the caller decides what's usable for its own role.
func (r *EtcdRegistry) Discover(namespace string) ([]Instance, error) {
	ctx := context.TODO()
	prefix := "/gpcp/" + namespace + "/"

	// Get all keys with the prefix
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	// Deserialize each value into an Instance
	instances := make([]Instance, 0)
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
