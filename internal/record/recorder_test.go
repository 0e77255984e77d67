package record

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// countingPlotter records every Plot call.
type countingPlotter struct {
	paths []string
	lens  []int
	err   error
}

func (p *countingPlotter) Plot(path string, s *Series) error {
	p.paths = append(p.paths, path)
	p.lens = append(p.lens, s.Len())
	return p.err
}

// setupTestRecorder creates a recorder writing to a temporary directory.
func setupTestRecorder(t *testing.T, cfg Config, opts ...Option) *Recorder {
	t.Helper()

	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}
	return r
}

// testState creates the state of iteration it with distinguishable values.
func testState(it int, beta, phiD float64) IterationState {
	return IterationState{
		Iteration: it,
		Beta:      beta,
		Objective: phiD + beta*float64(it),
		PhiD:      phiD,
		PhiM:      float64(it),
		Model:     []float64{float64(it), 0.5, -1},
		Predicted: []float64{phiD, phiD / 2},
	}
}

func readTotals(t *testing.T, r *Recorder) Series {
	t.Helper()
	var s Series
	if err := readJSON(r.Location().TotalsPath(), &s); err != nil {
		t.Fatalf("Failed to read totals: %v", err)
	}
	return s
}

func TestNew_ResolvesDatetimeName(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv_datetime"})

	if r.Location().Base != "inv_2024-03-01_14-05" {
		t.Errorf("Unexpected base name %s", r.Location().Base)
	}

	// Cached for the run's lifetime even as the clock moves on.
	if r.Location().TotalsPath() != filepath.Join(r.Location().Dir, "inv_2024-03-01_14-05.json") {
		t.Errorf("Unexpected totals path %s", r.Location().TotalsPath())
	}
}

func TestOnRunStart_TargetMisfit(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})

	if err := r.OnRunStart(RunInfo{NData: 41}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}

	s := r.Series()
	if s.TargetMisfit != 20.5 {
		t.Errorf("Expected target misfit 20.5, got %f", s.TargetMisfit)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty series, got %d entries", s.Len())
	}
	if s.RunID == "" {
		t.Error("Expected a run ID")
	}
}

func TestOnRunStart_NegativeNData(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})

	if err := r.OnRunStart(RunInfo{NData: -1}); err == nil {
		t.Fatal("Expected error for negative data count")
	}
}

func TestOnIterationEnd_BeforeRunStart(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})

	if err := r.OnIterationEnd(testState(1, 10, 50)); err == nil {
		t.Fatal("Expected error when recording before run start")
	}
}

func TestOnIterationEnd_AppendsAndPersists(t *testing.T) {
	plotter := &countingPlotter{}
	r := setupTestRecorder(t, Config{Name: "inv"}, WithPlotter(plotter))

	if err := r.OnRunStart(RunInfo{NData: 40}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}

	betas := []float64{10, 5, 2, 1}
	phiDs := []float64{50, 30, 5, 4}

	for i := range betas {
		it := i + 1
		if err := r.OnIterationEnd(testState(it, betas[i], phiDs[i])); err != nil {
			t.Fatalf("OnIterationEnd(%d) failed: %v", it, err)
		}

		mem := r.Series()
		if err := mem.Validate(); err != nil {
			t.Fatalf("In-memory series invalid after %d iterations: %v", it, err)
		}
		if mem.Len() != it {
			t.Fatalf("Expected %d entries, got %d", it, mem.Len())
		}

		disk := readTotals(t, r)
		if diff := cmp.Diff(*mem, disk); diff != "" {
			t.Fatalf("Totals file differs from memory after %d iterations (-mem +disk):\n%s", it, diff)
		}
		if disk.Iteration != it {
			t.Errorf("Expected totals iteration %d, got %d", it, disk.Iteration)
		}
		if disk.TargetMisfit != 20 {
			t.Errorf("Target misfit changed to %f", disk.TargetMisfit)
		}
	}

	final := r.Series()
	if diff := cmp.Diff(betas, final.Beta); diff != "" {
		t.Errorf("Beta mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(phiDs, final.PhiD); diff != "" {
		t.Errorf("PhiD mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]int{1, 2, 3, 4}, plotter.lens); diff != "" {
		t.Errorf("Plot calls mismatch (-want +got):\n%s", diff)
	}
	if plotter.paths[0] != r.Location().PlotPath() {
		t.Errorf("Expected plot at %s, got %s", r.Location().PlotPath(), plotter.paths[0])
	}
}

func TestOnIterationEnd_WritesSnapshot(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})
	if err := r.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}

	state := testState(1, 3, 7)
	if err := r.OnIterationEnd(state); err != nil {
		t.Fatalf("OnIterationEnd failed: %v", err)
	}

	var snap Snapshot
	if err := readJSON(r.Location().SnapshotPath(1), &snap); err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	expected := Snapshot{
		Iteration: 1,
		Beta:      3,
		PhiD:      7,
		PhiM:      1,
		Objective: state.Objective,
		Model:     state.Model,
		Predicted: state.Predicted,
		RunID:     r.Series().RunID,
	}
	if diff := cmp.Diff(expected, snap); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}

	// No temp files left behind.
	matches, _ := filepath.Glob(filepath.Join(r.Location().Dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("Temp files left behind: %v", matches)
	}
}

func TestOnIterationEnd_SnapshotNeverOverwritten(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})
	if err := r.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}

	if err := r.OnIterationEnd(testState(1, 10, 50)); err != nil {
		t.Fatalf("OnIterationEnd(1) failed: %v", err)
	}
	if err := r.OnIterationEnd(testState(2, 5, 30)); err != nil {
		t.Fatalf("OnIterationEnd(2) failed: %v", err)
	}

	before1, _ := os.ReadFile(r.Location().SnapshotPath(1))
	before2, _ := os.ReadFile(r.Location().SnapshotPath(2))
	totalsBefore, _ := os.ReadFile(r.Location().TotalsPath())

	err := r.OnIterationEnd(testState(2, 99, 99))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}

	after1, _ := os.ReadFile(r.Location().SnapshotPath(1))
	after2, _ := os.ReadFile(r.Location().SnapshotPath(2))
	totalsAfter, _ := os.ReadFile(r.Location().TotalsPath())

	if string(before1) != string(after1) || string(before2) != string(after2) {
		t.Error("Snapshot files changed after rejected write")
	}
	if string(totalsBefore) != string(totalsAfter) {
		t.Error("Totals file changed after rejected write")
	}
	if r.Series().Len() != 2 {
		t.Errorf("Expected series to stay at 2 entries, got %d", r.Series().Len())
	}
}

func TestOnIterationEnd_FailedTotalsWriteKeepsRunLoadable(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})
	if err := r.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}
	if err := r.OnIterationEnd(testState(1, 10, 50)); err != nil {
		t.Fatalf("OnIterationEnd(1) failed: %v", err)
	}

	// A directory in place of the temp file makes the totals write fail.
	blocker := r.Location().TotalsPath() + ".tmp"
	if err := os.Mkdir(blocker, 0755); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}
	if err := r.OnIterationEnd(testState(2, 5, 30)); err == nil {
		t.Fatal("Expected totals write to fail")
	}

	if _, err := os.Stat(r.Location().SnapshotPath(2)); !os.IsNotExist(err) {
		t.Errorf("Snapshot 2 should not exist after a failed totals write: %v", err)
	}
	run, err := Load(r.Location().Dir, "inv", LatestIteration)
	if err != nil {
		t.Fatalf("Load(latest) failed: %v", err)
	}
	if run.Series.Iteration != 1 || run.Series.Len() != 1 {
		t.Errorf("Expected reload at iteration 1, got it=%d len=%d", run.Series.Iteration, run.Series.Len())
	}

	// The same iteration can be retried once the failure is gone.
	if err := os.Remove(blocker); err != nil {
		t.Fatalf("Failed to remove blocker: %v", err)
	}
	if err := r.OnIterationEnd(testState(2, 5, 30)); err != nil {
		t.Fatalf("Retry of iteration 2 failed: %v", err)
	}
	run, err = Load(r.Location().Dir, "inv", LatestIteration)
	if err != nil {
		t.Fatalf("Load(latest) after retry failed: %v", err)
	}
	if run.Series.Iteration != 2 || run.Series.Len() != 2 {
		t.Errorf("Expected reload at iteration 2, got it=%d len=%d", run.Series.Iteration, run.Series.Len())
	}
}

func TestOnIterationEnd_TotalsAheadOfSnapshot(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})
	if err := r.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}
	for it := 1; it <= 2; it++ {
		if err := r.OnIterationEnd(testState(it, 10/float64(it), 50)); err != nil {
			t.Fatalf("OnIterationEnd(%d) failed: %v", it, err)
		}
	}

	// A crash after the totals write but before the snapshot create.
	if err := os.Remove(r.Location().SnapshotPath(2)); err != nil {
		t.Fatalf("Failed to remove snapshot: %v", err)
	}

	run, err := Load(r.Location().Dir, "inv", LatestIteration)
	if err != nil {
		t.Fatalf("Load(latest) failed: %v", err)
	}
	if run.Series.Iteration != 1 || run.Series.Len() != 1 {
		t.Errorf("Expected reload at iteration 1, got it=%d len=%d", run.Series.Iteration, run.Series.Len())
	}
}

func TestOnIterationEnd_RejectsPartialState(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})
	if err := r.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}

	tests := []struct {
		name  string
		state IterationState
	}{
		{"nan beta", IterationState{Iteration: 1, Beta: math.NaN(), Objective: 1, PhiD: 1, PhiM: 1}},
		{"inf phi_d", IterationState{Iteration: 1, Beta: 1, Objective: 1, PhiD: math.Inf(1), PhiM: 1}},
		{"nan phi_m", IterationState{Iteration: 1, Beta: 1, Objective: 1, PhiD: 1, PhiM: math.NaN()}},
		{"zero iteration", IterationState{Iteration: 0, Beta: 1, Objective: 1, PhiD: 1, PhiM: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.OnIterationEnd(tt.state); err == nil {
				t.Fatal("Expected validation error")
			}
			if r.Series().Len() != 0 {
				t.Fatalf("Series grew on invalid state")
			}
		})
	}

	if _, err := os.Stat(r.Location().TotalsPath()); !os.IsNotExist(err) {
		t.Error("Totals file should not exist after rejected states")
	}
}

func TestOnIterationEnd_PlotErrorPropagates(t *testing.T) {
	plotter := &countingPlotter{err: errors.New("render failed")}
	r := setupTestRecorder(t, Config{Name: "inv"}, WithPlotter(plotter))
	if err := r.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}

	if err := r.OnIterationEnd(testState(1, 1, 1)); err == nil {
		t.Fatal("Expected plot error to propagate")
	}

	// Data files are committed before plotting.
	if r.Series().Len() != 1 {
		t.Errorf("Expected 1 recorded iteration, got %d", r.Series().Len())
	}
	if _, err := os.Stat(r.Location().SnapshotPath(1)); err != nil {
		t.Errorf("Expected snapshot to exist: %v", err)
	}
}

func TestOnRunStart_ExistingRunWithoutRemove(t *testing.T) {
	dir := t.TempDir()

	first := setupTestRecorder(t, Config{Dir: dir, Name: "inv"})
	if err := first.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}
	if err := first.OnIterationEnd(testState(1, 1, 1)); err != nil {
		t.Fatalf("OnIterationEnd failed: %v", err)
	}

	second := setupTestRecorder(t, Config{Dir: dir, Name: "inv"})
	err := second.OnRunStart(RunInfo{NData: 10})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}

	// Nothing was cleaned up.
	if _, err := os.Stat(first.Location().SnapshotPath(1)); err != nil {
		t.Errorf("Snapshot should survive a refused start: %v", err)
	}
	if _, err := os.Stat(first.Location().TotalsPath()); err != nil {
		t.Errorf("Totals should survive a refused start: %v", err)
	}
}

func TestOnRunStart_ExistingRunWithRemove(t *testing.T) {
	dir := t.TempDir()

	first := setupTestRecorder(t, Config{Dir: dir, Name: "inv"})
	if err := first.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}
	for it := 1; it <= 3; it++ {
		if err := first.OnIterationEnd(testState(it, 1, 1)); err != nil {
			t.Fatalf("OnIterationEnd failed: %v", err)
		}
	}
	touch(t, dir, "inv.png", "keep.json", "keep-001.json")

	second := setupTestRecorder(t, Config{Dir: dir, Name: "inv", Remove: true})
	if err := second.OnRunStart(RunInfo{NData: 6}); err != nil {
		t.Fatalf("OnRunStart with remove failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{"keep-001.json", "keep.json"}, names); diff != "" {
		t.Errorf("Remaining files mismatch (-want +got):\n%s", diff)
	}

	// Fresh run proceeds from iteration 1 again.
	if err := second.OnIterationEnd(testState(1, 2, 2)); err != nil {
		t.Fatalf("OnIterationEnd after remove failed: %v", err)
	}
	if s := second.Series(); s.Len() != 1 || s.TargetMisfit != 3 {
		t.Errorf("Unexpected series after fresh start: len=%d target=%f", s.Len(), s.TargetMisfit)
	}
}

func TestOnRunStart_WarnsOnLeftoverSnapshots(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	touch(t, dir, "inv-001.json")

	r := setupTestRecorder(t, Config{Dir: dir, Name: "inv"})
	if err := r.OnRunStart(RunInfo{NData: 10}); err != nil {
		t.Fatalf("OnRunStart failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"level":"WARN"`)) {
		t.Errorf("Expected a warning about leftover snapshots, got %s", buf.String())
	}

	err := r.OnIterationEnd(testState(1, 1, 1))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
	if _, err := os.Stat(r.Location().TotalsPath()); !os.IsNotExist(err) {
		t.Error("Totals file should not be written for a colliding iteration")
	}
}

func TestRecorderString(t *testing.T) {
	r := setupTestRecorder(t, Config{Name: "inv"})

	want := "iteration recorder: files and plots are saved in " + r.Location().FullPath() + "*"
	if r.String() != want {
		t.Errorf("String() = %q, expected %q", r.String(), want)
	}
}
