package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/wwwsave/pkg/models"
	"github.com/Sriram-PR/wwwsave/pkg/pathmap"
	"github.com/Sriram-PR/wwwsave/pkg/rewrite"
	"github.com/Sriram-PR/wwwsave/pkg/storage"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// ResourceFetcherConfig wires a ResourceFetcher to one run.
type ResourceFetcherConfig struct {
	Fetcher  *Fetcher
	Mapper   *pathmap.Mapper
	Rewriter *rewrite.Rewriter // Rewrites fetched stylesheets and framed documents
	Hosts    *HostSemaphorePool
	Robots   *RobotsHandler          // nil unless the site opted into robots.txt
	Journal  storage.ResourceJournal // may be nil
	Workers  int                     // Concurrent fetches across all hosts
	RunID    string
}

// ResourceFetcher downloads page resources concurrently and writes them beside the pages.
// A URL whose fetch failed is remembered for the rest of the run and never requested again.
type ResourceFetcher struct {
	cfg    ResourceFetcherConfig
	global *semaphore.Weighted
	log    *logrus.Entry

	failedMu sync.Mutex
	failed   map[string]bool
}

// NewResourceFetcher creates a ResourceFetcher
func NewResourceFetcher(cfg ResourceFetcherConfig, log *logrus.Entry) *ResourceFetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &ResourceFetcher{
		cfg:    cfg,
		global: semaphore.NewWeighted(int64(cfg.Workers)),
		log:    log.WithField("component", "resources"),
		failed: make(map[string]bool),
	}
}

func (rf *ResourceFetcher) hasFailed(u string) bool {
	rf.failedMu.Lock()
	defer rf.failedMu.Unlock()
	return rf.failed[u]
}

func (rf *ResourceFetcher) markFailed(u string) {
	rf.failedMu.Lock()
	rf.failed[u] = true
	rf.failedMu.Unlock()
}

// FailedCount returns how many distinct resource URLs failed during the run.
func (rf *ResourceFetcher) FailedCount() int {
	rf.failedMu.Lock()
	defer rf.failedMu.Unlock()
	return len(rf.failed)
}

// BatchStats summarizes one batch.
type BatchStats struct {
	Saved   int
	Failed  int
	Skipped int // Duplicates, files already on disk, earlier failures
}

// Batch collects the resources of one page. It implements rewrite.ResourceSink;
// Wait returns once every resource, including those found inside fetched stylesheets, is settled.
type Batch struct {
	rf  *ResourceFetcher
	ctx context.Context
	wg  sync.WaitGroup

	mu      sync.Mutex
	claimed map[string]bool // local paths already handled in this batch
	pages   []string        // pages discovered inside framed documents

	saved, failed, skipped atomic.Int64
}

// NewBatch starts a batch bound to ctx. Cancelling ctx abandons pending fetches.
func (rf *ResourceFetcher) NewBatch(ctx context.Context) *Batch {
	return &Batch{
		rf:      rf,
		ctx:     ctx,
		claimed: make(map[string]bool),
	}
}

var _ rewrite.ResourceSink = (*Batch)(nil)

// Fetch schedules u for download unless it is a duplicate, already saved or known to fail.
// It never blocks on the network.
func (b *Batch) Fetch(u *url.URL, referrerPath, extHint string) {
	key := u.String()
	localPath := b.rf.cfg.Mapper.ToLocalPath(u, extHint)

	b.mu.Lock()
	if b.claimed[localPath] {
		b.mu.Unlock()
		return
	}
	b.claimed[localPath] = true
	b.mu.Unlock()

	if b.rf.hasFailed(key) || pathmap.Exists(localPath) {
		b.skipped.Add(1)
		return
	}

	b.wg.Add(1)
	go b.run(u, localPath, referrerPath, extHint)
}

// Wait blocks until every scheduled fetch has finished and returns the batch totals.
func (b *Batch) Wait() BatchStats {
	b.wg.Wait()
	return BatchStats{
		Saved:   int(b.saved.Load()),
		Failed:  int(b.failed.Load()),
		Skipped: int(b.skipped.Load()),
	}
}

// Pages returns page URLs discovered in framed documents. Call after Wait.
func (b *Batch) Pages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pages...)
}

func (b *Batch) run(u *url.URL, localPath, referrerPath, extHint string) {
	defer b.wg.Done()
	key := u.String()
	resLog := b.rf.log.WithFields(logrus.Fields{"url": key, "path": localPath})

	defer func() {
		if r := recover(); r != nil {
			resLog.Errorf("PANIC while saving resource: %v", r)
			b.rf.markFailed(key)
			b.failed.Add(1)
		}
	}()

	entry := &models.ResourceDBEntry{
		LocalPath: b.rf.cfg.Mapper.RootRelative(localPath),
		Referrer:  b.rf.cfg.Mapper.RootRelative(referrerPath),
		RunID:     b.rf.cfg.RunID,
	}

	resp, err := b.download(u)
	if err != nil {
		if b.ctx.Err() != nil {
			return // Interrupted, not failed; a resumed run may fetch it
		}
		b.rf.markFailed(key)
		b.failed.Add(1)
		entry.Status = models.ResourceStatusFailure
		entry.ErrorType = utils.CategorizeError(err)
		b.record(key, entry)
		resLog.WithField("error_type", entry.ErrorType).Warnf("Resource not saved: %v", err)
		return
	}

	body := b.rewriteNested(resp, localPath, extHint)

	if err := utils.WriteFileAtomic(pathmap.FilePath(localPath), body); err != nil {
		b.rf.markFailed(key)
		b.failed.Add(1)
		entry.Status = models.ResourceStatusFailure
		entry.ErrorType = utils.CategorizeError(err)
		b.record(key, entry)
		resLog.Errorf("Writing resource failed: %v", err)
		return
	}

	b.saved.Add(1)
	entry.Status = models.ResourceStatusSuccess
	entry.ContentType = resp.ContentType
	entry.Bytes = int64(len(body))
	b.record(key, entry)
	resLog.Debug("Saved resource")
}

// download fetches u holding one global and one per-host permit.
func (b *Batch) download(u *url.URL) (*Response, error) {
	if err := b.rf.global.Acquire(b.ctx, 1); err != nil {
		return nil, err
	}
	defer b.rf.global.Release(1)

	if b.rf.cfg.Robots != nil && !b.rf.cfg.Robots.Allowed(b.ctx, u) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, u)
	}

	var resp *Response
	err := b.rf.cfg.Hosts.Do(b.ctx, u.Host, func() error {
		var errGet error
		resp, errGet = b.rf.cfg.Fetcher.Get(b.ctx, u.String())
		return errGet
	})
	return resp, err
}

// rewriteNested rewrites stylesheets and framed documents so their own references point at local copies.
// References found there join this batch.
func (b *Batch) rewriteNested(resp *Response, localPath, extHint string) []byte {
	rw := b.rf.cfg.Rewriter
	if rw == nil {
		return resp.Body
	}
	switch {
	case isCSS(resp.ContentType, extHint):
		res := rw.RewriteCSS(string(resp.Body), resp.FinalURL, localPath, b)
		return []byte(res.Text)
	case isHTML(resp.ContentType, extHint):
		res := rw.RewriteHTML(string(resp.Body), resp.FinalURL, localPath, b)
		if len(res.Pages) > 0 {
			b.mu.Lock()
			b.pages = append(b.pages, res.Pages...)
			b.mu.Unlock()
		}
		return []byte(res.Text)
	}
	return resp.Body
}

func (b *Batch) record(key string, entry *models.ResourceDBEntry) {
	if b.rf.cfg.Journal == nil {
		return
	}
	entry.LastAttempt = time.Now()
	if err := b.rf.cfg.Journal.RecordResource(key, entry); err != nil {
		b.rf.log.WithField("url", key).Warnf("Journal write failed: %v", err)
	}
}

func isCSS(contentType, extHint string) bool {
	if contentType == "" {
		return extHint == pathmap.ExtCSS
	}
	return contentType == "text/css"
}

func isHTML(contentType, extHint string) bool {
	if contentType == "" {
		return extHint == pathmap.ExtHTML
	}
	return contentType == "text/html" || (contentType == "application/xhtml+xml" && extHint == pathmap.ExtHTML)
}
