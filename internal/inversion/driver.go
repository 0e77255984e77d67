package inversion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/inversionlog/internal/opt"
	"github.com/cwbudde/inversionlog/internal/record"
)

// DriverConfig holds the outer-loop settings.
type DriverConfig struct {
	// Beta0 is the starting trade-off; 0 estimates it with Beta0Ratio
	Beta0      float64
	Beta0Ratio float64

	// Beta is divided by CoolingFactor every CoolingRate iterations
	CoolingFactor float64
	CoolingRate   int

	MaxIterations int

	// StopAtTarget ends the run once phi_d drops below NData/2
	StopAtTarget bool

	// SearchRadius bounds each inner minimization around the current model
	SearchRadius float64
}

// DefaultDriverConfig mirrors a typical cooling schedule.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Beta0Ratio:    10,
		CoolingFactor: 2,
		CoolingRate:   1,
		MaxIterations: 15,
		StopAtTarget:  true,
		SearchRadius:  0.5,
	}
}

// Validate checks the schedule.
func (c DriverConfig) Validate() error {
	if c.Beta0 < 0 {
		return fmt.Errorf("beta0 cannot be negative, got %g", c.Beta0)
	}
	if c.Beta0 == 0 && c.Beta0Ratio <= 0 {
		return fmt.Errorf("beta0 ratio must be positive when beta0 is estimated, got %g", c.Beta0Ratio)
	}
	if c.CoolingFactor < 1 {
		return fmt.Errorf("cooling factor must be at least 1, got %g", c.CoolingFactor)
	}
	if c.CoolingRate < 1 {
		return fmt.Errorf("cooling rate must be positive, got %d", c.CoolingRate)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations)
	}
	if c.SearchRadius <= 0 {
		return fmt.Errorf("search radius must be positive, got %g", c.SearchRadius)
	}
	return nil
}

// Driver owns the inversion loop and calls its directives; directives
// never drive the loop.
type Driver struct {
	problem    *Problem
	optimizer  opt.Optimizer
	cfg        DriverConfig
	directives []record.Directive
}

// Result summarizes a finished run.
type Result struct {
	Model         []float64
	Iterations    int
	Beta          float64
	PhiD          float64
	PhiM          float64
	TargetMisfit  float64
	TargetReached bool
}

// NewDriver wires a problem, an inner optimizer and directives.
func NewDriver(p *Problem, o opt.Optimizer, cfg DriverConfig, directives ...record.Directive) (*Driver, error) {
	if p == nil {
		return nil, fmt.Errorf("problem cannot be nil")
	}
	if o == nil {
		return nil, fmt.Errorf("optimizer cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		problem:    p,
		optimizer:  o,
		cfg:        cfg,
		directives: directives,
	}, nil
}

// Run iterates until MaxIterations, the target misfit (if StopAtTarget)
// or cancellation. Cancellation is checked between iterations.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	p := d.problem
	target := float64(p.NData()) / 2

	for _, dir := range d.directives {
		if err := dir.OnRunStart(record.RunInfo{NData: p.NData()}); err != nil {
			return nil, fmt.Errorf("run start: %w", err)
		}
	}

	beta := d.cfg.Beta0
	if beta == 0 {
		beta = p.EstimateBeta0(d.cfg.Beta0Ratio)
	}

	slog.Info("Starting inversion",
		"n_data", p.NData(),
		"n_model", p.NModel(),
		"beta0", beta,
		"target_misfit", target,
		"max_iterations", d.cfg.MaxIterations,
	)

	m := make([]float64, p.NModel())
	res := &Result{TargetMisfit: target}

	for it := 1; it <= d.cfg.MaxIterations; it++ {
		select {
		case <-ctx.Done():
			slog.Info("Inversion cancelled", "it", it)
			return res, ctx.Err()
		default:
		}

		b := beta
		best, err := d.optimizer.Minimize(opt.Problem{
			Objective: func(x []float64) float64 { return p.Objective(x, b) },
			Center:    m,
			Radius:    d.cfg.SearchRadius,
		})
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", it, err)
		}
		m = best.X

		phiD := p.PhiD(m)
		phiM := p.PhiM(m)
		state := record.IterationState{
			Iteration: it,
			Beta:      beta,
			Objective: phiD + beta*phiM,
			PhiD:      phiD,
			PhiM:      phiM,
			Model:     m,
			Predicted: p.Forward(m),
		}
		for _, dir := range d.directives {
			if err := dir.OnIterationEnd(state); err != nil {
				return res, fmt.Errorf("iteration %d: %w", it, err)
			}
		}

		res.Model = append([]float64{}, m...)
		res.Iterations = it
		res.Beta = beta
		res.PhiD = phiD
		res.PhiM = phiM

		slog.Info("Iteration complete", "it", it, "beta", beta, "phi_d", phiD, "phi_m", phiM)

		if phiD < target {
			res.TargetReached = true
			if d.cfg.StopAtTarget {
				slog.Info("Target misfit reached", "it", it, "phi_d", phiD, "target_misfit", target)
				break
			}
		}

		if it%d.cfg.CoolingRate == 0 {
			beta /= d.cfg.CoolingFactor
		}
	}

	return res, nil
}
