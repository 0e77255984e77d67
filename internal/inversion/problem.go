// Package inversion runs a Tikhonov-regularized inversion of a synthetic
// linear problem and reports every iteration to registered directives.
package inversion

import (
	"fmt"
	"math"
	"math/rand"
)

// ProblemConfig describes the synthetic survey.
type ProblemConfig struct {
	ModelSize   int     // number of model cells on [0, 1]
	DataSize    int     // number of data points on [0, 1]
	KernelWidth float64 // width of the Gaussian sensitivity kernel
	Noise       float64 // relative noise level, fraction of the largest datum
	Seed        int64

	// Smallness and smoothness weights of the model misfit
	AlphaS float64
	AlphaX float64
}

// DefaultProblemConfig returns a small problem that inverts in seconds.
func DefaultProblemConfig() ProblemConfig {
	return ProblemConfig{
		ModelSize:   12,
		DataSize:    20,
		KernelWidth: 0.1,
		Noise:       0.02,
		Seed:        1,
		AlphaS:      1e-2,
		AlphaX:      1,
	}
}

// Problem is a linear forward problem d = G m with observed data.
type Problem struct {
	G         [][]float64
	Observed  []float64
	Std       []float64
	TrueModel []float64

	alphaS float64
	alphaX float64
	seed   int64
}

// NewSyntheticProblem builds the kernel, a two-anomaly true model and
// noisy observations.
func NewSyntheticProblem(cfg ProblemConfig) (*Problem, error) {
	if cfg.ModelSize < 2 {
		return nil, fmt.Errorf("model size must be at least 2, got %d", cfg.ModelSize)
	}
	if cfg.DataSize < 1 {
		return nil, fmt.Errorf("data size must be positive, got %d", cfg.DataSize)
	}
	if cfg.KernelWidth <= 0 {
		return nil, fmt.Errorf("kernel width must be positive, got %g", cfg.KernelWidth)
	}
	if cfg.Noise < 0 {
		return nil, fmt.Errorf("noise cannot be negative, got %g", cfg.Noise)
	}

	cells := linspace(cfg.ModelSize)
	stations := linspace(cfg.DataSize)

	g := make([][]float64, cfg.DataSize)
	for i, x := range stations {
		g[i] = make([]float64, cfg.ModelSize)
		var sum float64
		for j, y := range cells {
			g[i][j] = math.Exp(-(x - y) * (x - y) / (2 * cfg.KernelWidth * cfg.KernelWidth))
			sum += g[i][j]
		}
		for j := range g[i] {
			g[i][j] /= sum
		}
	}

	truth := make([]float64, cfg.ModelSize)
	for j, y := range cells {
		truth[j] = math.Exp(-(y-0.35)*(y-0.35)/0.01) - 0.5*math.Exp(-(y-0.75)*(y-0.75)/0.005)
	}

	p := &Problem{
		G:         g,
		TrueModel: truth,
		alphaS:    cfg.AlphaS,
		alphaX:    cfg.AlphaX,
		seed:      cfg.Seed,
	}

	clean := p.Forward(truth)
	var peak float64
	for _, d := range clean {
		peak = math.Max(peak, math.Abs(d))
	}
	floor := math.Max(cfg.Noise*peak, 1e-6)

	rng := rand.New(rand.NewSource(cfg.Seed))
	p.Observed = make([]float64, len(clean))
	p.Std = make([]float64, len(clean))
	for i, d := range clean {
		p.Std[i] = floor
		p.Observed[i] = d + cfg.Noise*peak*rng.NormFloat64()
	}
	return p, nil
}

// NData is the survey's number of data points.
func (p *Problem) NData() int {
	return len(p.Observed)
}

// NModel is the number of model cells.
func (p *Problem) NModel() int {
	return len(p.TrueModel)
}

// Forward computes predicted data for m.
func (p *Problem) Forward(m []float64) []float64 {
	d := make([]float64, len(p.G))
	for i, row := range p.G {
		var sum float64
		for j, v := range row {
			sum += v * m[j]
		}
		d[i] = sum
	}
	return d
}

// PhiD is half the squared, noise-weighted data residual. Its expected
// value at the true model is NData/2.
func (p *Problem) PhiD(m []float64) float64 {
	var sum float64
	for i, d := range p.Forward(m) {
		r := (d - p.Observed[i]) / p.Std[i]
		sum += r * r
	}
	return 0.5 * sum
}

// PhiM is half the weighted smallness plus first-difference smoothness.
func (p *Problem) PhiM(m []float64) float64 {
	var small, smooth float64
	for j, v := range m {
		small += v * v
		if j > 0 {
			dv := v - m[j-1]
			smooth += dv * dv
		}
	}
	return 0.5 * (p.alphaS*small + p.alphaX*smooth)
}

// Objective is PhiD + beta*PhiM.
func (p *Problem) Objective(m []float64, beta float64) float64 {
	return p.PhiD(m) + beta*p.PhiM(m)
}

// EstimateBeta0 scales the ratio of data to model misfit growth for a
// random model drawn from the problem seed.
func (p *Problem) EstimateBeta0(ratio float64) float64 {
	rng := rand.New(rand.NewSource(p.seed))
	m := make([]float64, p.NModel())
	for j := range m {
		m[j] = rng.NormFloat64()
	}
	zero := make([]float64, p.NModel())

	dataGrowth := p.PhiD(m) - p.PhiD(zero)
	modelGrowth := p.PhiM(m)
	if modelGrowth <= 0 || dataGrowth <= 0 {
		return ratio
	}
	return ratio * dataGrowth / modelGrowth
}

func linspace(n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = 0.5
		return out
	}
	for i := range out {
		out[i] = float64(i) / float64(n-1)
	}
	return out
}
