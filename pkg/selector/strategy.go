package selector

import (
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Strategy names.
const (
	StrategyRandom     = "random"
	StrategyRoundRobin = "round-robin"
	StrategyFirst      = "first"
)

// Strategy picks one instance out of the eligible ones. candidates is never
// empty and is sorted by id.
type Strategy interface {
	Apply(candidates []model.DataPlaneInstance) model.DataPlaneInstance
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func([]model.DataPlaneInstance) model.DataPlaneInstance

func (f StrategyFunc) Apply(c []model.DataPlaneInstance) model.DataPlaneInstance { return f(c) }

func randomStrategy(c []model.DataPlaneInstance) model.DataPlaneInstance {
	return c[rand.IntN(len(c))]
}

func firstStrategy(c []model.DataPlaneInstance) model.DataPlaneInstance {
	return c[0]
}

// roundRobin cycles through the candidates in id order.
type roundRobin struct {
	next atomic.Uint64
}

func (r *roundRobin) Apply(c []model.DataPlaneInstance) model.DataPlaneInstance {
	n := r.next.Add(1) - 1
	return c[n%uint64(len(c))]
}

// StrategyRegistry holds strategies by name.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewStrategyRegistry returns a registry with the bundled strategies.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: map[string]Strategy{
		StrategyRandom:     StrategyFunc(randomStrategy),
		StrategyFirst:      StrategyFunc(firstStrategy),
		StrategyRoundRobin: &roundRobin{},
	}}
}

// Register adds or replaces a strategy.
func (r *StrategyRegistry) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

// Get returns the strategy registered under name.
func (r *StrategyRegistry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names lists the registered strategies, sorted.
func (r *StrategyRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
