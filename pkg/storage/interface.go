package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/wwwsave/pkg/models"
)

// PageJournal records the archive outcome of page URLs
type PageJournal interface {
	// CheckPageStatus retrieves the status and details of a page URL.
	// Returns PageStatusNotFound (with a nil entry) when the URL was never recorded
	CheckPageStatus(pageURL string) (status models.PageStatus, entry *models.PageDBEntry, err error)

	// RecordPage stores the entry for a page URL, replacing any previous one
	RecordPage(pageURL string, entry *models.PageDBEntry) error
}

// ResourceJournal records the fetch outcome of resource URLs
type ResourceJournal interface {
	// CheckResourceStatus retrieves the status and details of a resource URL
	CheckResourceStatus(resourceURL string) (status models.ResourceStatus, entry *models.ResourceDBEntry, err error)

	// RecordResource stores the entry for a resource URL, replacing any previous one
	RecordResource(resourceURL string, entry *models.ResourceDBEntry) error
}

// RunMetaStore keeps the identity of the run a journal belongs to, so a resumed run can rebuild it
type RunMetaStore interface {
	SaveRunMeta(meta *models.RunMeta) error
	// LoadRunMeta returns nil without error when nothing was saved
	LoadRunMeta() (*models.RunMeta, error)
}

// JournalAdmin handles lifecycle and reporting operations
type JournalAdmin interface {
	// Counts tallies page and resource entries by status
	Counts(ctx context.Context) (Counts, error)

	// WriteVisitedLog writes every page and resource URL, one per line, prefixed by its kind and status
	WriteVisitedLog(ctx context.Context, filePath string) error

	// RunGC runs periodic value log garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database
	Close() error
}

// Journal combines all journal interfaces for components that need full access
type Journal interface {
	PageJournal
	ResourceJournal
	RunMetaStore
	JournalAdmin
}

// Counts is a tally of journal entries by status
type Counts struct {
	Pages     map[models.PageStatus]int
	Resources map[models.ResourceStatus]int
}
