package loadbalance

import (
	"fmt"
	"math/rand"

	"gpcp/endpoint"
	"gpcp/registry"
)

// WeightedRandomBalancer selects instances probabilistically based on their
// weight, among those role-compatible with the caller and not stale.
// An instance with weight 10 gets roughly 2x the traffic of one with weight 5.
//
// Best for: heterogeneous peers (e.g., some servers have more CPU/memory).
//
// Algorithm:
//  1. Sum all weights → totalWeight
//  2. Generate random number r in [0, totalWeight)
//  3. Subtract each instance's weight from r until r < 0
//  4. The instance that makes r negative is selected
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.Instance, localRole endpoint.Role) (*registry.Instance, error) {
	candidates := usable(instances, localRole)
	if len(candidates) == 0 {
		return nil, errNoUsableInstances
	}

	// Calculate total weight
	totalWeight := 0
	for _, v := range candidates {
		totalWeight += v.Weight
	}

	// An all-zero-weight candidate set (e.g. nobody ever set Weight)
	// degrades to a uniform pick instead of panicking on rand.Intn(0).
	if totalWeight <= 0 {
		return &candidates[rand.Intn(len(candidates))], nil
	}

	// Random selection proportional to weight
	r := rand.Intn(totalWeight)
	for i := range candidates {
		r -= candidates[i].Weight
		if r < 0 {
			return &candidates[i], nil
		}
	}

	return nil, fmt.Errorf("loadbalance: unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
