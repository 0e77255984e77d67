package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// writeTemp serializes v to path+".tmp" and syncs it.
func writeTemp(path string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %s: %w", path, err)
	}

	tempPath := path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tempPath, nil
}

// writeAtomic replaces path with the JSON encoding of v using
// temp file + rename, so readers see either the old or the new content.
func writeAtomic(path string, v any) error {
	tempPath, err := writeTemp(path, v)
	if err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// writeExclusive creates path with the JSON encoding of v and fails with
// an AlreadyExistsError if path is already present. The hard link makes
// the create both atomic and non-clobbering.
func writeExclusive(path string, v any) error {
	tempPath, err := writeTemp(path, v)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	if err := os.Link(tempPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &AlreadyExistsError{Path: path, Hint: "iteration snapshots are written once"}
		}
		return fmt.Errorf("failed to link %s: %w", path, err)
	}
	return nil
}

// readJSON decodes path into v.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{Path: path}
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &MalformedError{Path: path, Reason: err.Error()}
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// Remove deletes every artifact of the run named name in dir: the
// running totals, the plot and all iteration snapshots. It returns the
// number of files removed, or a NotFoundError if the run has no files.
func Remove(dir, name string) (int, error) {
	loc, err := resolveExisting(dir, name)
	if err != nil {
		return 0, err
	}
	n, err := removeArtifacts(loc)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, &NotFoundError{Path: loc.FullPath() + "*"}
	}
	return n, nil
}

func removeArtifacts(loc Location) (int, error) {
	paths, err := loc.artifacts()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", p, err)
		}
		removed++
	}
	slog.Debug("Removed run artifacts", "path", loc.FullPath(), "count", removed)
	return removed, nil
}
