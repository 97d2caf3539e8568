// Package logs manages the per-run log files: one timestamped raw log
// per deploy (written by the process runner) plus a summary.json with
// the structured rows, and retention cleanup for old runs.
package logs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/moat-sh/moat/internal/engine"
	"github.com/moat-sh/moat/internal/errors"
)

// RunLog names the files for one run under the base log directory.
type RunLog struct {
	// Path is the raw output log the process runner appends to.
	Path string
	// SummaryPath receives summary.json when the run finishes.
	SummaryPath string
}

// NewRunLog creates the base directory and returns timestamped file
// paths for a run. The label becomes part of the file name, sanitized
// for filesystem safety.
func NewRunLog(baseDir, label string) (*RunLog, error) {
	if len(baseDir) > 0 && baseDir[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Can't determine home directory",
				"Check your environment configuration.")
		}
		baseDir = filepath.Join(home, baseDir[1:])
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't create log directory "+baseDir,
			"Check your permissions for "+baseDir+".")
	}

	stamp := time.Now().Format("20060102-150405")
	name := fmt.Sprintf("%s-%s", sanitizeFilename(label), stamp)
	return &RunLog{
		Path:        filepath.Join(baseDir, name+".log"),
		SummaryPath: filepath.Join(baseDir, name+".summary.json"),
	}, nil
}

// Summary is the structure written to the run's summary.json.
type Summary struct {
	Label     string    `json:"label"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`
	ExitCode  int       `json:"exit_code"`
	Cancelled bool      `json:"cancelled"`
	Rows      []RowJSON `json:"rows"`
}

// RowJSON is one structured result row in summary.json.
type RowJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Host      string    `json:"host"`
	Task      string    `json:"task"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
}

// WriteSummary renders a finished run's outcome to summary.json.
func (r *RunLog) WriteSummary(label string, outcome *engine.Outcome) error {
	if outcome == nil || outcome.Result == nil {
		return nil
	}

	end := time.Now()
	s := Summary{
		Label:     label,
		StartTime: end.Add(-outcome.Result.Duration),
		EndTime:   end,
		Duration:  outcome.Result.Duration.String(),
		ExitCode:  outcome.Result.ExitCode,
		Cancelled: outcome.Cancelled(),
		Rows:      make([]RowJSON, len(outcome.Rows)),
	}
	for i, row := range outcome.Rows {
		s.Rows[i] = RowJSON{
			Timestamp: row.Timestamp,
			Host:      row.Host,
			Task:      row.Task,
			Status:    string(row.Status),
			Message:   row.Message,
		}
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrExec,
			"Can't encode run summary", "")
	}
	if err := os.WriteFile(r.SummaryPath, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrExec,
			"Can't write summary file "+r.SummaryPath,
			"Check your permissions.")
	}
	return nil
}

// sanitizeFilename replaces characters that aren't safe for filenames.
func sanitizeFilename(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			result[i] = '-'
		default:
			result[i] = c
		}
	}
	return string(result)
}
