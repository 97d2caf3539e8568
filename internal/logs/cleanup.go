package logs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/moat-sh/moat/internal/errors"
)

// runFile is one log or summary file with metadata for cleanup decisions.
type runFile struct {
	path    string
	modTime time.Time
}

// RunInfo describes one persisted run log for display.
type RunInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// List returns the run logs under baseDir, newest first. A missing
// base directory yields an empty list.
func List(baseDir string) ([]RunInfo, error) {
	files, err := listRunLogs(baseDir)
	if err != nil {
		return nil, err
	}

	out := make([]RunInfo, 0, len(files))
	for _, f := range files {
		info := RunInfo{
			Name:    strings.TrimSuffix(filepath.Base(f.path), ".log"),
			Path:    f.path,
			ModTime: f.modTime,
		}
		if st, err := os.Stat(f.path); err == nil {
			info.Size = st.Size()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

// CleanByRuns keeps only the most recent N run logs and removes the
// rest (with their summaries). Zero or negative keep is a no-op.
func CleanByRuns(baseDir string, keep int) error {
	if keep <= 0 {
		return nil
	}

	files, err := listRunLogs(baseDir)
	if err != nil {
		return err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	if len(files) <= keep {
		return nil
	}
	for _, f := range files[keep:] {
		if err := removeRun(f.path); err != nil {
			return err
		}
	}
	return nil
}

// CleanByAge removes run logs older than maxAge.
func CleanByAge(baseDir string, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}

	files, err := listRunLogs(baseDir)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, f := range files {
		if f.modTime.Before(cutoff) {
			if err := removeRun(f.path); err != nil {
				return err
			}
		}
	}
	return nil
}

// CleanAll removes every run log and summary under baseDir.
func CleanAll(baseDir string) error {
	files, err := listRunLogs(baseDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := removeRun(f.path); err != nil {
			return err
		}
	}
	return nil
}

// listRunLogs returns the .log files under baseDir. A missing base
// directory yields an empty list.
func listRunLogs(baseDir string) ([]runFile, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrExec,
			"Can't read log directory "+baseDir, "Check your permissions.")
	}

	var out []runFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, runFile{
			path:    filepath.Join(baseDir, e.Name()),
			modTime: info.ModTime(),
		})
	}
	return out, nil
}

// removeRun deletes a run log and its summary.json sibling.
func removeRun(logPath string) error {
	if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
		return errors.WrapWithCode(err, errors.ErrExec,
			"Can't delete log file "+logPath, "Check your permissions.")
	}
	summary := strings.TrimSuffix(logPath, ".log") + ".summary.json"
	if err := os.Remove(summary); err != nil && !os.IsNotExist(err) {
		return errors.WrapWithCode(err, errors.ErrExec,
			"Can't delete summary file "+summary, "Check your permissions.")
	}
	return nil
}
