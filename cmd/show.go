package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cwbudde/inversionlog/internal/record"
	"github.com/spf13/cobra"
)

var showIteration int

var showCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show a saved run as of an iteration",
	Long: `Reloads a saved run and prints its convergence history. Without --it the
latest saved iteration is used; with --it the history is cut at that iteration.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().IntVar(&showIteration, "it", record.LatestIteration, "Iteration to load (0 = latest)")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	run, err := record.Load(dataDir, args[0], showIteration)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	s := run.Series
	target, reached := s.TargetIteration()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IT\tBETA\tPHI\tPHI_D\tPHI_M\t")
	fmt.Fprintln(w, "--\t----\t---\t-----\t-----\t")
	for i := 0; i < s.Len(); i++ {
		mark := ""
		if reached && i == target {
			mark = "*"
		}
		fmt.Fprintf(w, "%d\t%.4g\t%.4g\t%.4g\t%.4g\t%s\n", i+1, s.Beta[i], s.Phi[i], s.PhiD[i], s.PhiM[i], mark)
	}
	w.Flush()

	snap := run.Snapshot
	fmt.Printf("\nRun: %s\n", run.Location.FullPath())
	fmt.Printf("Iteration: %d\n", snap.Iteration)
	fmt.Printf("Target misfit: %.4g", s.TargetMisfit)
	if reached {
		fmt.Printf(" (first reached at iteration %d)", target+1)
	}
	fmt.Println()
	fmt.Printf("Objective: %.6g\n", snap.Objective)
	fmt.Printf("Model: %d values, predicted data: %d values\n", len(snap.Model), len(snap.Predicted))
	return nil
}
