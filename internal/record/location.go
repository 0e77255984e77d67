package record

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DatetimePlaceholder in a run name is replaced by the run's start timestamp.
	DatetimePlaceholder = "datetime"

	// TimestampLayout gives minute resolution, e.g. 2024-03-01_14-05.
	TimestampLayout = "2006-01-02_15-04"

	fileExt = ".json"
	plotExt = ".png"
)

// BaseName derives the base file name of a run from its configured name.
// An empty name is treated as DatetimePlaceholder.
func BaseName(name string, now time.Time) string {
	if name == "" {
		name = DatetimePlaceholder
	}
	if !strings.Contains(name, DatetimePlaceholder) {
		return name
	}
	return strings.ReplaceAll(name, DatetimePlaceholder, now.Format(TimestampLayout))
}

// Location is where the artifacts of one run live.
type Location struct {
	Dir  string // absolute directory
	Base string // base file name without extension
}

// ResolveLocation makes dir absolute, creates it if missing, and
// derives the base file name.
func ResolveLocation(dir, name string, now time.Time) (Location, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Location{}, fmt.Errorf("failed to resolve run directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return Location{}, fmt.Errorf("failed to create run directory: %w", err)
	}

	base := BaseName(name, now)
	if base == "" || strings.ContainsRune(base, filepath.Separator) {
		return Location{}, &ValidationError{Field: "Name", Reason: "must be a plain file name"}
	}

	return Location{Dir: abs, Base: base}, nil
}

// FullPath is the path prefix shared by all artifacts of the run.
func (l Location) FullPath() string {
	return filepath.Join(l.Dir, l.Base)
}

// TotalsPath is the running-totals file, rewritten every iteration.
func (l Location) TotalsPath() string {
	return l.FullPath() + fileExt
}

// PlotPath is the convergence plot, rewritten every iteration.
func (l Location) PlotPath() string {
	return l.FullPath() + plotExt
}

// SnapshotPath is the immutable file of a single iteration.
// Suffixes are zero-padded to three digits and widen past 999.
func (l Location) SnapshotPath(iteration int) string {
	return fmt.Sprintf("%s-%03d%s", l.FullPath(), iteration, fileExt)
}

func (l Location) snapshotPattern() *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(l.Base) + `-(\d{3,})` + regexp.QuoteMeta(fileExt) + `$`)
}

// Snapshots returns the iteration numbers of all snapshot files present,
// in directory order.
func (l Location) Snapshots() ([]int, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: l.Dir}
		}
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	pattern := l.snapshotPattern()
	var iterations []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		it, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		iterations = append(iterations, it)
	}
	return iterations, nil
}

// LatestSnapshot returns the highest iteration with a snapshot file.
func (l Location) LatestSnapshot() (int, error) {
	iterations, err := l.Snapshots()
	if err != nil {
		return 0, err
	}
	if len(iterations) == 0 {
		return 0, &NotFoundError{Path: l.FullPath() + "-???" + fileExt}
	}
	latest := iterations[0]
	for _, it := range iterations[1:] {
		if it > latest {
			latest = it
		}
	}
	return latest, nil
}

// artifacts lists every file belonging to the run: {base}.* and {base}-NNN.json.
func (l Location) artifacts() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	pattern := l.snapshotPattern()
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, l.Base+".") || pattern.MatchString(name) {
			paths = append(paths, filepath.Join(l.Dir, name))
		}
	}
	return paths, nil
}
