// Package record saves the convergence history of an inversion run.
//
// A Recorder is registered with an inversion loop as a Directive. At run
// start it validates the output location; after every iteration it
// appends beta, phi, phi_d and phi_m to the run's Series, rewrites the
// running-totals file, writes an immutable snapshot of the iteration and
// regenerates the convergence plot. Load reconstructs the state of a run
// as of any saved iteration.
//
// Files for a run with base name B in directory D:
//
//	D/B.json      running totals (Series), rewritten every iteration
//	D/B-NNN.json  snapshot of iteration NNN, written once
//	D/B.png       convergence plot, rewritten every iteration
package record

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Directive is notified by an inversion loop at fixed points of its
// lifecycle. Calls are sequential; an error aborts the loop.
type Directive interface {
	OnRunStart(info RunInfo) error
	OnIterationEnd(state IterationState) error
}

// RunInfo is what the host loop knows before the first iteration.
type RunInfo struct {
	// NData is the survey's number of data points
	NData int
}

// Plotter renders a run's series to an image file.
type Plotter interface {
	Plot(path string, series *Series) error
}

// Config holds the recorder's configuration surface.
type Config struct {
	Dir    string // output directory, created if missing
	Name   string // base name, may contain DatetimePlaceholder
	Remove bool   // delete existing results of the same name at run start
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPlotter sets the plot renderer invoked after every iteration.
func WithPlotter(p Plotter) Option {
	return func(r *Recorder) {
		r.plotter = p
	}
}

// WithClock sets the time source used to resolve DatetimePlaceholder.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder implements Directive and persists one run. It is not safe
// for concurrent use.
type Recorder struct {
	cfg     Config
	loc     Location
	plotter Plotter
	now     func() time.Time

	series  *Series
	started bool
}

var _ Directive = (*Recorder)(nil)

// New resolves the run location and creates the output directory.
func New(cfg Config, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	loc, err := ResolveLocation(cfg.Dir, cfg.Name, r.now())
	if err != nil {
		return nil, err
	}
	r.loc = loc
	r.series = &Series{}

	return r, nil
}

// Location returns where the run's files are written.
func (r *Recorder) Location() Location {
	return r.loc
}

// Series returns a copy of the accumulated history.
func (r *Recorder) Series() *Series {
	return r.series.Clone()
}

func (r *Recorder) String() string {
	return fmt.Sprintf("iteration recorder: files and plots are saved in %s*", r.loc.FullPath())
}

// OnRunStart checks for existing results and resets the series.
// Existing results fail with ErrAlreadyExists unless Config.Remove is set,
// in which case all of the run's artifacts are deleted first. Snapshots
// left without a totals file only log a warning; writing one of those
// iterations again fails with ErrAlreadyExists.
func (r *Recorder) OnRunStart(info RunInfo) error {
	if info.NData < 0 {
		return &ValidationError{Field: "NData", Reason: "cannot be negative"}
	}

	slog.Info("Saving inversion results", "path", r.loc.FullPath()+"*")

	totals := r.loc.TotalsPath()
	exists, err := fileExists(totals)
	if err != nil {
		return err
	}
	if exists && !r.cfg.Remove {
		return &AlreadyExistsError{Path: totals, Hint: "set remove to overwrite"}
	}
	if !exists && !r.cfg.Remove {
		leftover, err := r.loc.Snapshots()
		if err != nil {
			return err
		}
		if len(leftover) > 0 {
			slog.Warn("Snapshots without running totals found; colliding iterations will fail",
				"path", r.loc.FullPath()+"*", "snapshots", len(leftover), "hint", "set remove to clear them")
		}
	}
	if r.cfg.Remove {
		n, err := removeArtifacts(r.loc)
		if err != nil {
			return fmt.Errorf("failed to remove existing results: %w", err)
		}
		if n > 0 {
			slog.Info("Removed existing results", "path", r.loc.FullPath()+"*", "files", n)
		}
	}

	r.series = &Series{
		Beta:         []float64{},
		Phi:          []float64{},
		PhiD:         []float64{},
		PhiM:         []float64{},
		TargetMisfit: float64(info.NData) / 2.0,
		RunID:        uuid.New().String(),
	}
	r.started = true
	return nil
}

// OnIterationEnd records one iteration. The totals file is replaced
// atomically before the snapshot is created, so a latest-iteration reload
// never finds a snapshot the totals do not cover. A snapshot is never
// overwritten, and the in-memory series is extended only after both writes
// succeed.
func (r *Recorder) OnIterationEnd(state IterationState) error {
	if !r.started {
		return fmt.Errorf("iteration %d recorded before run start", state.Iteration)
	}
	if err := state.Validate(); err != nil {
		return err
	}

	snapPath := r.loc.SnapshotPath(state.Iteration)
	exists, err := fileExists(snapPath)
	if err != nil {
		return err
	}
	if exists {
		return &AlreadyExistsError{Path: snapPath, Hint: "iteration snapshots are written once"}
	}

	next := r.series.Clone()
	next.append(state)

	if err := writeAtomic(r.loc.TotalsPath(), next); err != nil {
		return err
	}
	if err := writeExclusive(snapPath, state.snapshot(next.RunID)); err != nil {
		if rerr := writeAtomic(r.loc.TotalsPath(), r.series); rerr != nil {
			slog.Error("Failed to restore running totals", "path", r.loc.TotalsPath(), "error", rerr)
		}
		return err
	}
	r.series = next

	slog.Debug("Iteration recorded",
		"it", state.Iteration,
		"beta", state.Beta,
		"phi", state.Objective,
		"phi_d", state.PhiD,
		"phi_m", state.PhiM,
		"target_misfit", next.TargetMisfit,
	)

	if r.plotter != nil {
		if err := r.plotter.Plot(r.loc.PlotPath(), r.series.Clone()); err != nil {
			return fmt.Errorf("failed to plot iteration %d: %w", state.Iteration, err)
		}
	}
	return nil
}
