package record

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LatestIteration makes Load pick the highest saved iteration.
const LatestIteration = 0

// Run is the state of a saved run as of one iteration.
type Run struct {
	Location Location
	Series   *Series
	Snapshot *Snapshot
}

// resolveExisting builds the location of an already saved run. The name
// is used as the base name verbatim and the directory is not created.
func resolveExisting(dir, name string) (Location, error) {
	if name == "" || strings.ContainsRune(name, filepath.Separator) {
		return Location{}, &ValidationError{Field: "Name", Reason: "must be a plain file name"}
	}
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Location{}, fmt.Errorf("failed to resolve run directory: %w", err)
	}
	return Location{Dir: abs, Base: name}, nil
}

// Load reads the run named name from dir as of the given iteration.
// With LatestIteration the highest saved snapshot is used. The series is
// truncated to iteration entries even if the totals file holds more.
func Load(dir, name string, iteration int) (*Run, error) {
	if iteration < 0 {
		return nil, &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	loc, err := resolveExisting(dir, name)
	if err != nil {
		return nil, err
	}

	if iteration == LatestIteration {
		iteration, err = loc.LatestSnapshot()
		if err != nil {
			return nil, err
		}
	}

	snapPath := loc.SnapshotPath(iteration)
	var snap Snapshot
	if err := readJSON(snapPath, &snap); err != nil {
		return nil, err
	}
	if snap.Iteration != iteration {
		return nil, &MalformedError{
			Path:   snapPath,
			Reason: fmt.Sprintf("holds iteration %d", snap.Iteration),
		}
	}

	totalsPath := loc.TotalsPath()
	var series Series
	if err := readJSON(totalsPath, &series); err != nil {
		return nil, err
	}
	if err := series.Validate(); err != nil {
		return nil, &MalformedError{Path: totalsPath, Reason: err.Error()}
	}
	if series.Len() < iteration {
		return nil, &MalformedError{
			Path:   totalsPath,
			Reason: fmt.Sprintf("has %d iterations, %d requested", series.Len(), iteration),
		}
	}
	if series.RunID != "" && snap.RunID != "" && series.RunID != snap.RunID {
		return nil, &MalformedError{
			Path:   snapPath,
			Reason: "belongs to a different run than " + totalsPath,
		}
	}

	series.Truncate(iteration)
	series.Iteration = iteration

	slog.Debug("Run loaded", "path", snapPath, "it", iteration)
	return &Run{
		Location: loc,
		Series:   &series,
		Snapshot: &snap,
	}, nil
}

// Summary contains metadata about a saved run without its vectors.
type Summary struct {
	Name          string    `json:"name"`
	Iterations    int       `json:"iterations"`
	Snapshots     int       `json:"snapshots"`
	LastBeta      float64   `json:"lastBeta"`
	LastPhiD      float64   `json:"lastPhiD"`
	TargetMisfit  float64   `json:"targetMisfit"`
	TargetReached bool      `json:"targetReached"`
	ModTime       time.Time `json:"modTime"`
}

// RunNames returns the base names of all runs with a totals file in dir,
// sorted by name.
func RunNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	bases := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		bases[strings.TrimSuffix(name, fileExt)] = true
	}

	names := []string{}
	for base := range bases {
		if parent, ok := snapshotParent(base); ok && bases[parent] {
			continue
		}
		names = append(names, base)
	}
	sort.Strings(names)
	return names, nil
}

// snapshotParent splits {name}-NNN into name.
func snapshotParent(base string) (string, bool) {
	i := strings.LastIndexByte(base, '-')
	if i < 0 || len(base)-i-1 < 3 {
		return "", false
	}
	for _, c := range base[i+1:] {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return base[:i], true
}

// Summarize reads the totals file of one run.
func Summarize(dir, name string) (*Summary, error) {
	loc, err := resolveExisting(dir, name)
	if err != nil {
		return nil, err
	}

	path := loc.TotalsPath()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var series Series
	if err := readJSON(path, &series); err != nil {
		return nil, err
	}
	if err := series.Validate(); err != nil {
		return nil, &MalformedError{Path: path, Reason: err.Error()}
	}

	snapshots, err := loc.Snapshots()
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Name:         name,
		Iterations:   series.Len(),
		Snapshots:    len(snapshots),
		TargetMisfit: series.TargetMisfit,
		ModTime:      info.ModTime(),
	}
	if n := series.Len(); n > 0 {
		s.LastBeta = series.Beta[n-1]
		s.LastPhiD = series.PhiD[n-1]
	}
	_, s.TargetReached = series.TargetIteration()
	return s, nil
}
