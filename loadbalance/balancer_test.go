package loadbalance

import (
	"fmt"
	"testing"

	"gpcp/endpoint"
	"gpcp/registry"
)

var testInstances = []registry.Instance{
	{Addr: ":8001", Weight: 10, Version: "1.0", Role: endpoint.RoleResponder},
	{Addr: ":8002", Weight: 5, Version: "1.0", Role: endpoint.RoleResponder},
	{Addr: ":8003", Weight: 10, Version: "1.0", Role: endpoint.RoleResponder},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances, endpoint.RoleRequester)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances, endpoint.RoleRequester)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick([]registry.Instance{}, endpoint.RoleRequester)
	if err == nil {
		t.Fatal("expect error for empty instances")
	}
}

func TestRoundRobinExcludesIncompatibleRoles(t *testing.T) {
	b := &RoundRobinBalancer{}
	// Every candidate is RoleResponder; a responder caller can never pair
	// with another responder, so none of them are usable.
	_, err := b.Pick(testInstances, endpoint.RoleResponder)
	if err == nil {
		t.Fatal("expect error when every candidate shares the caller's role")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances, endpoint.RoleRequester)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeightFallsBackToUniform(t *testing.T) {
	b := &WeightedRandomBalancer{}
	zeroWeight := []registry.Instance{
		{Addr: ":9001", Role: endpoint.RoleResponder},
		{Addr: ":9002", Role: endpoint.RoleResponder},
	}
	for i := 0; i < 50; i++ {
		if _, err := b.Pick(zeroWeight, endpoint.RoleRequester); err != nil {
			t.Fatalf("Pick with all-zero weights should not error, got %v", err)
		}
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer(endpoint.RoleRequester)
	for i := range testInstances {
		if !b.Add(&testInstances[i]) {
			t.Fatalf("expected %s to be added to the ring", testInstances[i].Addr)
		}
	}

	// Same key should always map to the same instance
	inst1, _ := b.Pick("user-123")
	inst2, _ := b.Pick("user-123")
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Different keys should (likely) map to different instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i))
		seen[inst.Addr] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRejectsIncompatibleRole(t *testing.T) {
	b := NewConsistentHashBalancer(endpoint.RoleResponder)
	responder := registry.Instance{Addr: ":9101", Role: endpoint.RoleResponder}
	if b.Add(&responder) {
		t.Fatal("expected Add to reject an instance sharing the balancer's own role")
	}
	if _, err := b.Pick("any-key"); err == nil {
		t.Fatal("expected Pick to fail on an empty ring")
	}
}

func TestConsistentHashRemove(t *testing.T) {
	b := NewConsistentHashBalancer(endpoint.RoleRequester)
	for i := range testInstances {
		b.Add(&testInstances[i])
	}
	b.Remove(":8001")

	for i := 0; i < 100; i++ {
		inst, err := b.Pick(fmt.Sprintf("key-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr == ":8001" {
			t.Fatalf("removed instance :8001 was still picked")
		}
	}
}
