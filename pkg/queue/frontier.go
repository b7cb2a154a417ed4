// Package queue holds the crawl frontier and its on-disk resume state.
package queue

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// Frontier is the deduplicated FIFO of page URLs still to crawl.
// A URL is never queued twice, never queued while it is being processed,
// and never queued once its page is saved.
type Frontier struct {
	mu      sync.Mutex
	order   *list.List               // URLs in FIFO order
	index   map[string]*list.Element // URL -> element in order
	current string                   // URL popped and not yet Done or Requeued
	isSaved func(string) bool
	log     *logrus.Entry
}

// NewFrontier creates an empty frontier. isSaved reports whether a URL's page already exists on disk; it may be nil.
func NewFrontier(isSaved func(string) bool, log *logrus.Entry) *Frontier {
	if isSaved == nil {
		isSaved = func(string) bool { return false }
	}
	return &Frontier{
		order:   list.New(),
		index:   make(map[string]*list.Element),
		isSaved: isSaved,
		log:     log.WithField("component", "frontier"),
	}
}

// Push appends u unless it is queued, in progress or already saved. Returns whether it was added.
func (f *Frontier) Push(u string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushLocked(u)
}

func (f *Frontier) pushLocked(u string) bool {
	if u == "" || u == f.current {
		return false
	}
	if _, queued := f.index[u]; queued {
		return false
	}
	if f.isSaved(u) {
		f.log.WithField("url", u).Debug("Not queueing already saved page")
		return false
	}
	f.index[u] = f.order.PushBack(u)
	return true
}

// Seed queues an entry point even when its page is already saved, so a run always refreshes it.
func (f *Frontier) Seed(u string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u == "" || u == f.current {
		return false
	}
	if _, queued := f.index[u]; queued {
		return false
	}
	f.index[u] = f.order.PushBack(u)
	return true
}

// PushAll pushes each URL in order and returns how many were added.
func (f *Frontier) PushAll(urls []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	added := 0
	for _, u := range urls {
		if f.pushLocked(u) {
			added++
		}
	}
	return added
}

// PopFront removes the head of the queue and marks it in progress. ok is false when empty.
func (f *Frontier) PopFront() (u string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head := f.order.Front()
	if head == nil {
		return "", false
	}
	u = f.order.Remove(head).(string)
	delete(f.index, u)
	f.current = u
	return u, true
}

// Done clears the in-progress URL after its page was processed.
func (f *Frontier) Done(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == u {
		f.current = ""
	}
}

// Requeue puts the in-progress URL back at the tail after a failed attempt.
func (f *Frontier) Requeue(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == u {
		f.current = ""
	}
	if _, queued := f.index[u]; !queued {
		f.index[u] = f.order.PushBack(u)
	}
}

// Contains reports whether u is queued or in progress.
func (f *Frontier) Contains(u string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, queued := f.index[u]
	return queued || (u != "" && u == f.current)
}

// Len returns the number of queued URLs, excluding the one in progress.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

// Snapshot returns the pending URLs in order. An in-progress URL comes first so an
// interruption mid-page resumes with that page.
func (f *Frontier) Snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, f.order.Len()+1)
	if f.current != "" {
		out = append(out, f.current)
	}
	for e := f.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// Serialize encodes the pending URLs as a JSON array of strings.
func (f *Frontier) Serialize() ([]byte, error) {
	data, err := json.Marshal(f.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("%w: encode frontier: %w", utils.ErrResumeState, err)
	}
	return data, nil
}

// Restore replaces the queue with the URLs encoded in data, keeping their order.
// Saved-page filtering does not apply: a restored entry is pending by definition.
func (f *Frontier) Restore(data []byte) error {
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return fmt.Errorf("%w: resume state is not a JSON array of URLs: %w", utils.ErrResumeState, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.Init()
	f.index = make(map[string]*list.Element, len(urls))
	f.current = ""
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := f.index[u]; dup {
			continue
		}
		f.index[u] = f.order.PushBack(u)
	}
	return nil
}
