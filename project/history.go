package project

import (
	"encoding/json"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/deftio/pocketdock"
)

// History appends JSONL records of runs and session traffic under an
// instance's logs/ directory, rotated per the project configuration.
type History struct {
	out *lumberjack.Logger
}

// OpenHistory opens (creating as needed) the history log for an
// instance directory.
func OpenHistory(instanceDir string, cfg Config) *History {
	maxSizeMB := 10
	if parsed, err := units.FromHumanSize(cfg.MaxLogSize); err == nil && parsed > 0 {
		maxSizeMB = int(parsed / (1000 * 1000))
		if maxSizeMB < 1 {
			maxSizeMB = 1
		}
	}

	return &History{
		out: &lumberjack.Logger{
			Filename:   filepath.Join(instanceDir, "logs", "history.jsonl"),
			MaxSize:    maxSizeMB,
			MaxBackups: cfg.MaxLogsPerInstance,
			MaxAge:     cfg.RetentionDays,
		},
	}
}

type runRecord struct {
	Time       string `json:"time"`
	Type       string `json:"type"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Stdout     int    `json:"stdout_bytes"`
	Stderr     int    `json:"stderr_bytes"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
}

type sessionRecord struct {
	Time      string `json:"time"`
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Direction string `json:"direction"`
	Text      string `json:"text"`
}

// RecordRun appends one run outcome.
func (h *History) RecordRun(command string, result pocketdock.ExecResult) {
	h.append(runRecord{
		Time:       time.Now().UTC().Format(time.RFC3339),
		Type:       "run",
		Command:    command,
		ExitCode:   result.ExitCode,
		DurationMS: result.Duration.Milliseconds(),
		Stdout:     len(result.Stdout),
		Stderr:     len(result.Stderr),
		TimedOut:   result.TimedOut,
		Truncated:  result.Truncated,
	})
}

// RecordSession appends one session send or receive.
func (h *History) RecordSession(sessionID, direction, text string) {
	h.append(sessionRecord{
		Time:      time.Now().UTC().Format(time.RFC3339),
		Type:      "session",
		SessionID: sessionID,
		Direction: direction,
		Text:      text,
	})
}

func (h *History) append(record interface{}) {
	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	h.out.Write(append(line, '\n'))
}

// Close closes the underlying log file.
func (h *History) Close() error {
	return h.out.Close()
}
