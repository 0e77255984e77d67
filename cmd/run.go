package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/cwbudde/inversionlog/internal/chart"
	"github.com/cwbudde/inversionlog/internal/config"
	"github.com/cwbudde/inversionlog/internal/inversion"
	"github.com/cwbudde/inversionlog/internal/opt"
	"github.com/cwbudde/inversionlog/internal/record"
	"github.com/spf13/cobra"
)

var (
	configPath string
	runName    string
	remove     bool
	noPlot     bool
	maxIters   int
	beta0      float64
	optIters   int
	popSize    int
	seed       int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic inversion and record every iteration",
	Long: `Runs a regularized inversion of a synthetic linear problem. After every
iteration the running totals, an iteration snapshot and the convergence plot
are written to the data directory. The effective configuration is saved as
<name>.yaml when the run ends.`,
	RunE: runInversion,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML run configuration")
	runCmd.Flags().StringVar(&runName, "name", "", "Base name of the run files; \"datetime\" is replaced by the start time")
	runCmd.Flags().BoolVar(&remove, "remove", false, "Remove existing results with the same name")
	runCmd.Flags().BoolVar(&noPlot, "no-plot", false, "Skip convergence plots")
	runCmd.Flags().IntVar(&maxIters, "iters", 0, "Max inversion iterations (overrides config)")
	runCmd.Flags().Float64Var(&beta0, "beta0", 0, "Initial beta (overrides config, 0 = estimate)")
	runCmd.Flags().IntVar(&optIters, "opt-iters", 0, "Mayfly iterations per inversion iteration (overrides config)")
	runCmd.Flags().IntVar(&popSize, "pop", 0, "Mayfly population size (overrides config)")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Mayfly random seed (overrides config)")

	rootCmd.AddCommand(runCmd)
}

// loadRunConfig reads the config file, if any, and applies flag overrides.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}

	changed := func(name string) bool {
		return cmd != nil && cmd.Flags().Changed(name)
	}
	if changed("data-dir") || configPath == "" {
		cfg.Output.Dir = dataDir
	}
	if runName != "" {
		cfg.Output.Name = runName
	}
	if remove {
		cfg.Output.Remove = true
	}
	if noPlot {
		cfg.Output.Plot = false
	}
	if maxIters > 0 {
		cfg.Inversion.MaxIterations = maxIters
	}
	if changed("beta0") {
		cfg.Inversion.Beta0 = beta0
	}
	if optIters > 0 {
		cfg.Optimizer.Iterations = optIters
	}
	if popSize > 0 {
		cfg.Optimizer.Population = popSize
	}
	if changed("seed") {
		cfg.Optimizer.Seed = seed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runInversion(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	problem, err := inversion.NewSyntheticProblem(cfg.ProblemConfig())
	if err != nil {
		return fmt.Errorf("failed to build problem: %w", err)
	}

	optimizer, err := opt.NewMayfly(cfg.Optimizer.Iterations, cfg.Optimizer.Population, cfg.Optimizer.Seed)
	if err != nil {
		return fmt.Errorf("failed to create optimizer: %w", err)
	}

	var opts []record.Option
	if cfg.Output.Plot {
		opts = append(opts, record.WithPlotter(chart.NewConvergencePlotter()))
	}
	recorder, err := record.New(cfg.RecorderConfig(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}
	fmt.Println(recorder)

	driver, err := inversion.NewDriver(problem, optimizer, cfg.DriverConfig(), recorder)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	result, err := driver.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		if serr := saveRunConfig(cfg, recorder.Location()); serr != nil {
			slog.Warn("Failed to save run configuration", "error", serr)
		}
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	slog.Info("Inversion complete",
		"elapsed", elapsed,
		"iterations", result.Iterations,
		"beta", result.Beta,
		"phi_d", result.PhiD,
		"phi_m", result.PhiM,
		"target_reached", result.TargetReached,
	)

	status := "not reached"
	if result.TargetReached {
		status = "reached"
	}
	fmt.Printf("Wrote %s* (%d iterations, phi_d %.3g, target %.3g %s)\n",
		recorder.Location().FullPath(), result.Iterations, result.PhiD, result.TargetMisfit, status)

	return nil
}

// runConfigPath is where the effective configuration of a run is kept.
// It shares the run's base name, so runs clean and remove also delete it.
func runConfigPath(loc record.Location) string {
	return filepath.Join(loc.Dir, loc.Base+".yaml")
}

func saveRunConfig(cfg *config.Config, loc record.Location) error {
	path := runConfigPath(loc)
	if err := cfg.Save(path); err != nil {
		return err
	}
	slog.Debug("Run configuration saved", "path", path)
	return nil
}
