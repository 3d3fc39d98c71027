package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const debugDirName = "debug"

type debugEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Method    string      `json:"method"`
	Model     string      `json:"model"`
	Params    interface{} `json:"params"`
	Response  interface{} `json:"response"`
	Error     string      `json:"error,omitempty"`
}

// debugLog writes one JSON file per call. A nil *debugLog is disabled.
type debugLog struct {
	dir string
}

func newDebugLog(cfg Opts) *debugLog {
	if !cfg.DebugMode || cfg.StateDir == "" {
		return nil
	}
	return &debugLog{dir: filepath.Join(cfg.StateDir, debugDirName)}
}

func (d *debugLog) write(method, model string, params, response interface{}, callErr error) {
	if d == nil {
		return
	}
	entry := debugEntry{
		Timestamp: time.Now().UTC(),
		Method:    method,
		Model:     model,
		Params:    params,
		Response:  response,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("debugLog.write: failed to marshal entry", "method", method, "error", err)
		return
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		slog.Warn("debugLog.write: failed to create debug directory", "dir", d.dir, "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%s.json", entry.Timestamp.Format("20060102T150405.000"), method, uuid.NewString())
	if err := os.WriteFile(filepath.Join(d.dir, name), data, 0644); err != nil {
		slog.Warn("debugLog.write: failed to write debug file", "file", name, "error", err)
		return
	}
	slog.Debug("debugLog.write: call recorded", "method", method, "file", name)
}
