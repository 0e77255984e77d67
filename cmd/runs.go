package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/inversionlog/internal/record"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	olderThanDays int
	forceClean    bool
	listParallel  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage saved inversion runs",
	Long: `Manage saved inversion runs including listing and cleaning old results.
A run is identified by the base name of its running-totals file.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved runs",
	Long:  `Display all runs in the data directory with iterations, last beta and data misfit, and whether the target misfit was reached.`,
	RunE:  runListRuns,
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean [NAME...]",
	Short: "Delete saved runs",
	Long: `Delete the running totals, snapshots and plot of the named runs, or of all
runs last written more than --older-than days ago.`,
	RunE: runCleanRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(cleanRunsCmd)

	listRunsCmd.Flags().IntVar(&listParallel, "parallel", 4, "Number of runs read concurrently")

	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

// summarizeRuns reads the totals file of every run in dir concurrently.
// Unreadable runs are logged and skipped.
func summarizeRuns(ctx context.Context, dir string, parallel int) ([]record.Summary, error) {
	names, err := record.RunNames(dir)
	if err != nil {
		return nil, err
	}

	summaries := make([]*record.Summary, len(names))
	g, _ := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			s, err := record.Summarize(dir, name)
			if err != nil {
				slog.Warn("Failed to read run for listing", "name", name, "error", err)
				return nil
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []record.Summary
	for _, s := range summaries {
		if s != nil {
			out = append(out, *s)
		}
	}
	slog.Debug("Listed runs", "count", len(out))
	return out, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	summaries, err := summarizeRuns(context.Background(), dataDir, listParallel)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODIFIED\tITERATIONS\tBETA\tPHI_D\tTARGET")
	fmt.Fprintln(w, "----\t--------\t----------\t----\t-----\t------")

	for _, s := range summaries {
		target := fmt.Sprintf("%.4g", s.TargetMisfit)
		if s.TargetReached {
			target += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.4g\t%.4g\t%s\n",
			s.Name,
			s.ModTime.Format("2006-01-02 15:04:05"),
			s.Iterations,
			s.LastBeta,
			s.LastPhiD,
			target,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(summaries))
	return nil
}

func runCleanRuns(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && olderThanDays == 0 {
		return fmt.Errorf("must name runs or specify --older-than")
	}

	toDelete := args
	if olderThanDays > 0 {
		summaries, err := summarizeRuns(context.Background(), dataDir, listParallel)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		toDelete = append(toDelete, selectRunsForDeletion(summaries, olderThanDays, time.Now())...)
	}

	if len(toDelete) == 0 {
		fmt.Println("No runs match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d run(s) to delete:\n", len(toDelete))
	for _, name := range toDelete {
		fmt.Printf("  - %s\n", name)
	}

	// Ask for confirmation unless --force is set
	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, name := range toDelete {
		n, err := record.Remove(dataDir, name)
		if err != nil {
			slog.Error("Failed to delete run", "name", name, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted run", "name", name, "files", n)
		deleted++
	}

	fmt.Printf("\nDeleted %d run(s), %d failed.\n", deleted, failed)
	if failed > 0 {
		return fmt.Errorf("%d run(s) could not be deleted", failed)
	}
	return nil
}

// selectRunsForDeletion returns the names of runs last written before the cutoff.
func selectRunsForDeletion(summaries []record.Summary, olderThanDays int, now time.Time) []string {
	cutoff := now.AddDate(0, 0, -olderThanDays)

	var names []string
	for _, s := range summaries {
		if s.ModTime.Before(cutoff) {
			names = append(names, s.Name)
		}
	}
	return names
}
