// Package knapsack is a 0/1 knapsack application for the engine.
//
// Instances are TOML files listing a capacity and items. The search tree
// decides items in decreasing value density; each node is bounded by the
// fractional relaxation of the remaining items, and every node is itself a
// feasible packing, so incumbents appear from the first subproblem on.
package knapsack

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// Item is one candidate for the knapsack.
type Item struct {
	Name   string `toml:"name" json:"name"`
	Weight int    `toml:"weight" json:"weight"`
	Value  int    `toml:"value" json:"value"`
}

// Instance is a knapsack problem.
type Instance struct {
	Name     string `toml:"name" json:"name"`
	Capacity int    `toml:"capacity" json:"capacity"`
	Items    []Item `toml:"items" json:"items"`
}

// LoadInstance reads a TOML instance file.
func LoadInstance(path string) (*Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	in, err := ParseInstance(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// ParseInstance decodes and validates a TOML instance.
func ParseInstance(data []byte) (*Instance, error) {
	var in Instance
	if err := toml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse instance: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

// Validate checks the instance.
func (in *Instance) Validate() error {
	if in.Capacity < 0 {
		return fmt.Errorf("capacity must be non-negative, got %d", in.Capacity)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("instance has no items")
	}
	for i, it := range in.Items {
		if it.Weight <= 0 {
			return fmt.Errorf("item %d (%s): weight must be positive, got %d", i, it.Name, it.Weight)
		}
		if it.Value < 0 {
			return fmt.Errorf("item %d (%s): value must be non-negative, got %d", i, it.Name, it.Value)
		}
	}
	return nil
}

// Encode writes the instance as TOML.
func (in *Instance) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(in)
}

// GenerateOptions controls Generate.
type GenerateOptions struct {
	Items     int
	MaxWeight int
	// Correlated makes values track weights, which produces much harder
	// instances.
	Correlated bool
	// CapacityRatio is the capacity as a fraction of the total weight.
	CapacityRatio float64
	Seed          uint64
}

// Generate builds a random instance. The same options always produce the
// same instance.
func Generate(opts GenerateOptions) (*Instance, error) {
	if opts.Items < 1 {
		return nil, fmt.Errorf("need at least one item, got %d", opts.Items)
	}
	if opts.MaxWeight < 1 {
		return nil, fmt.Errorf("max weight must be at least 1, got %d", opts.MaxWeight)
	}
	if opts.CapacityRatio <= 0 || opts.CapacityRatio > 1 {
		return nil, fmt.Errorf("capacity ratio must be in (0, 1], got %v", opts.CapacityRatio)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	in := &Instance{
		Name:  fmt.Sprintf("generated-%d-%d", opts.Items, opts.Seed),
		Items: make([]Item, opts.Items),
	}
	total := 0
	for i := range in.Items {
		w := 1 + rng.IntN(opts.MaxWeight)
		v := 1 + rng.IntN(opts.MaxWeight)
		if opts.Correlated {
			v = w + opts.MaxWeight/10 + rng.IntN(max(opts.MaxWeight/10, 1))
		}
		in.Items[i] = Item{Name: fmt.Sprintf("item-%03d", i), Weight: w, Value: v}
		total += w
	}
	in.Capacity = int(float64(total) * opts.CapacityRatio)
	return in, nil
}

// Optimum solves the instance exactly by dynamic programming over
// capacities. It is meant for checking small instances.
func Optimum(in *Instance) int {
	best := make([]int, in.Capacity+1)
	for _, it := range in.Items {
		for c := in.Capacity; c >= it.Weight; c-- {
			if v := best[c-it.Weight] + it.Value; v > best[c] {
				best[c] = v
			}
		}
	}
	return best[in.Capacity]
}

// densityOrder returns item indices by decreasing value per weight, ties
// by index.
func densityOrder(items []Item) []int {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := items[order[a]], items[order[b]]
		return ia.Value*ib.Weight > ib.Value*ia.Weight
	})
	return order
}
