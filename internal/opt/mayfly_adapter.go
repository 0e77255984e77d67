package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinPopulation is the smallest swarm the mayfly library accepts.
const MinPopulation = 20

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface.
// Successive Minimize calls draw from one seeded source, so a sequence of
// calls is reproducible.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	rng      *rand.Rand
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) (*MayflyAdapter, error) {
	if maxIters <= 0 {
		return nil, fmt.Errorf("mayfly iterations must be positive, got %d", maxIters)
	}
	if popSize < MinPopulation {
		return nil, fmt.Errorf("mayfly population must be at least %d, got %d", MinPopulation, popSize)
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Minimize searches the offset from p.Center within [-Radius, Radius]
// per coordinate, since the library only takes scalar bounds.
func (m *MayflyAdapter) Minimize(p Problem) (*Result, error) {
	dim := len(p.Center)
	if dim == 0 {
		return nil, fmt.Errorf("empty starting point")
	}
	if p.Radius <= 0 {
		return nil, fmt.Errorf("search radius must be positive, got %g", p.Radius)
	}
	if p.Objective == nil {
		return nil, fmt.Errorf("objective cannot be nil")
	}

	shifted := func(offset []float64) float64 {
		x := make([]float64, dim)
		for i := range x {
			x[i] = p.Center[i] + offset[i]
		}
		return p.Objective(x)
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = shifted
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = -p.Radius
	config.UpperBound = p.Radius
	config.Rand = m.rng

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	best := make([]float64, dim)
	for i := range best {
		best[i] = p.Center[i] + result.GlobalBest.Position[i]
	}

	// Never report a point worse than where the search started.
	if startCost := p.Objective(p.Center); startCost <= result.GlobalBest.Cost {
		return &Result{X: append([]float64{}, p.Center...), Cost: startCost}, nil
	}
	return &Result{X: best, Cost: result.GlobalBest.Cost}, nil
}
