package models

import "time"

// PageDBEntry stores the outcome of archiving a page URL in the journal
type PageDBEntry struct {
	Status      PageStatus `json:"status"`
	LocalPath   string     `json:"local_path,omitempty"`   // Relative to the archive root (on success)
	ErrorType   string     `json:"error_type,omitempty"`   // Error category (on failure)
	Attempts    int        `json:"attempts"`               // Render attempts so far
	RunID       string     `json:"run_id,omitempty"`       // Run that last touched the entry
	ProcessedAt time.Time  `json:"processed_at,omitempty"` // Timestamp of successful save
	LastAttempt time.Time  `json:"last_attempt"`           // Timestamp of the last attempt
}

// ResourceDBEntry stores the outcome of fetching a page resource in the journal
type ResourceDBEntry struct {
	Status      ResourceStatus `json:"status"`
	LocalPath   string         `json:"local_path,omitempty"` // Relative to the archive root
	Referrer    string         `json:"referrer,omitempty"`   // Local path of the document that referenced it
	ContentType string         `json:"content_type,omitempty"`
	Bytes       int64          `json:"bytes,omitempty"`
	ErrorType   string         `json:"error_type,omitempty"` // Error category (on failure)
	RunID       string         `json:"run_id,omitempty"`
	LastAttempt time.Time      `json:"last_attempt"`
}

// RunMeta identifies the run a journal was started by
type RunMeta struct {
	RunID     string    `json:"run_id"`
	EntryURL  string    `json:"entry_url"` // Post-redirect entry URL; fixes the site identity
	Username  string    `json:"username,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// RunSummary is the outcome of one archive run, reported at the end.
type RunSummary struct {
	RunID             string        `yaml:"run_id"`
	SiteKey           string        `yaml:"site_key"`
	Site              string        `yaml:"site"` // scheme://host[:port]
	OutputDir         string        `yaml:"output_dir"`
	StartTime         time.Time     `yaml:"start_time"`
	EndTime           time.Time     `yaml:"end_time"`
	Elapsed           time.Duration `yaml:"elapsed"`
	PagesSaved        int           `yaml:"pages_saved"`
	PagesFailed       int           `yaml:"pages_failed"`
	PagesRemaining    int           `yaml:"pages_remaining"`
	ResourcesSaved    int           `yaml:"resources_saved"`
	ResourcesFailed   int           `yaml:"resources_failed"`
	ReferencesSkipped int           `yaml:"references_skipped"` // Malformed references left as-is
	Interrupted       bool          `yaml:"interrupted"`
}
