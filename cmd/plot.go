package main

import (
	"fmt"

	"github.com/cwbudde/inversionlog/internal/chart"
	"github.com/cwbudde/inversionlog/internal/record"
	"github.com/spf13/cobra"
)

var (
	plotIteration int
	plotOut       string
)

var plotCmd = &cobra.Command{
	Use:   "plot NAME",
	Short: "Re-render the convergence plot of a saved run",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlot,
}

func init() {
	plotCmd.Flags().IntVar(&plotIteration, "it", record.LatestIteration, "Plot the run as of this iteration (0 = latest)")
	plotCmd.Flags().StringVar(&plotOut, "out", "", "Output image path (default: the run's plot file)")
	rootCmd.AddCommand(plotCmd)
}

func runPlot(cmd *cobra.Command, args []string) error {
	run, err := record.Load(dataDir, args[0], plotIteration)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	out := plotOut
	if out == "" {
		out = run.Location.PlotPath()
	}
	if err := chart.NewConvergencePlotter().Plot(out, run.Series); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (iteration %d)\n", out, run.Snapshot.Iteration)
	return nil
}
