package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/wwwsave/pkg/models"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

const runHistoryFileName = "run_history.json"

// SiteRun is the outcome of the most recent run for a site
type SiteRun struct {
	RunID          string    `json:"run_id"`
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	Interrupted    bool      `json:"interrupted,omitempty"`
	PagesSaved     int       `json:"pages_saved"`
	PagesFailed    int       `json:"pages_failed"`
	PagesRemaining int       `json:"pages_remaining"`
	OutputDir      string    `json:"output_dir,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Resumable reports whether the run left pages behind.
func (r SiteRun) Resumable() bool {
	return r.PagesRemaining > 0
}

type runHistory struct {
	Sites     map[string]SiteRun `json:"sites"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// RunHistory persists the last run of every site in the state directory
type RunHistory struct {
	stateDir string
	path     string
	history  runHistory
	mu       sync.RWMutex
}

// NewRunHistory creates a history stored under stateDir. Call Load before reading it.
func NewRunHistory(stateDir string) *RunHistory {
	return &RunHistory{
		stateDir: stateDir,
		path:     filepath.Join(stateDir, runHistoryFileName),
		history:  runHistory{Sites: make(map[string]SiteRun)},
	}
}

// Path returns the history file location
func (h *RunHistory) Path() string { return h.path }

// Load reads the history from disk. A missing file is an empty history.
func (h *RunHistory) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.history = runHistory{Sites: make(map[string]SiteRun)}
			return nil
		}
		return fmt.Errorf("%w: read run history: %w", utils.ErrFilesystem, err)
	}

	var loaded runHistory
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: run history '%s': %w", utils.ErrParsing, h.path, err)
	}
	if loaded.Sites == nil {
		loaded.Sites = make(map[string]SiteRun)
	}
	h.history = loaded
	return nil
}

// Save writes the history to disk atomically
func (h *RunHistory) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(h.history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run history: %w", err)
	}
	return utils.WriteFileAtomic(h.path, data)
}

// Get returns the last run of siteKey
func (h *RunHistory) Get(siteKey string) (SiteRun, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.history.Sites[siteKey]
	return run, ok
}

// Record replaces the entry for summary's site. runErr is the error the run ended with, if any.
func (h *RunHistory) Record(summary models.RunSummary, runErr error) {
	run := SiteRun{
		RunID:          summary.RunID,
		LastRunTime:    summary.EndTime,
		LastRunSuccess: runErr == nil && !summary.Interrupted && summary.PagesRemaining == 0,
		Interrupted:    summary.Interrupted,
		PagesSaved:     summary.PagesSaved,
		PagesFailed:    summary.PagesFailed,
		PagesRemaining: summary.PagesRemaining,
		OutputDir:      summary.OutputDir,
	}
	if run.LastRunTime.IsZero() {
		run.LastRunTime = time.Now()
	}
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.history.Sites[summary.SiteKey] = run
}

// All returns a copy of every site's last run
func (h *RunHistory) All() map[string]SiteRun {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]SiteRun, len(h.history.Sites))
	for k, v := range h.history.Sites {
		result[k] = v
	}
	return result
}
