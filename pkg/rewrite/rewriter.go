// Package rewrite rewrites the references inside fetched markup and
// stylesheets so they address local copies, routes embedded resources to a
// ResourceSink and reports newly discovered pages.
package rewrite

import (
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/wwwsave/pkg/pathmap"
	"github.com/Sriram-PR/wwwsave/pkg/rules"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// ResourceSink receives every embeddable resource found while rewriting.
// referrerPath is the local path of the document holding the reference.
type ResourceSink interface {
	Fetch(u *url.URL, referrerPath, extHint string)
}

// Result is the outcome of rewriting one document.
type Result struct {
	Text      string
	Pages     []string // Discovered page URLs, fragment-free, in document order, deduplicated
	Resources int      // References handed to the sink
	Rewritten int      // References whose value changed
	Skipped   int      // Malformed references left untouched
}

// Rewriter is stateless across documents and safe for concurrent use.
type Rewriter struct {
	mapper  *pathmap.Mapper
	rules   *rules.Set
	log     *logrus.Entry
	noPages bool
}

// New creates a Rewriter bound to one run's mapper and rule set.
func New(mapper *pathmap.Mapper, ruleSet *rules.Set, log *logrus.Entry) *Rewriter {
	return &Rewriter{mapper: mapper, rules: ruleSet, log: log.WithField("component", "rewriter")}
}

// WithoutPages returns a copy that never maps a reference to a page. Anchors keep their live URL
// and other page references are fetched as resources.
func (rw *Rewriter) WithoutPages() *Rewriter {
	c := *rw
	c.noPages = true
	return &c
}

// document carries the per-document state of one rewrite call.
type document struct {
	rw        *Rewriter
	base      *url.URL // Resolution base; starts as the document URL, may be replaced by <base href>
	current   string   // Document URL without fragment, never discovered from itself
	path      string   // Local path of the document
	sink      ResourceSink
	log       *logrus.Entry
	seenPages map[string]bool
	result    Result
}

func (rw *Rewriter) newDocument(docURL *url.URL, docPath string, sink ResourceSink) *document {
	return &document{
		rw:        rw,
		base:      docURL,
		current:   stripFragment(docURL).String(),
		path:      docPath,
		sink:      sink,
		log:       rw.log.WithField("document", docURL.String()),
		seenPages: make(map[string]bool),
	}
}

// RewriteCSS rewrites the url() references of a standalone stylesheet saved at docPath.
func (rw *Rewriter) RewriteCSS(text string, docURL *url.URL, docPath string, sink ResourceSink) Result {
	d := rw.newDocument(docURL, docPath, sink)
	d.result.Text = d.rewriteCSS(text)
	return d.result
}

// rewriteRef resolves one reference value (already HTML-unescaped) and returns its replacement.
// ok is false when the value must stay as it is.
func (d *document) rewriteRef(value, extHint string, anchor bool) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "#") {
		return "", false
	}

	ref, err := url.Parse(value)
	if err != nil {
		d.result.Skipped++
		d.log.WithField("url", value).Warnf("Leaving reference unrewritten: %v", utils.WrapErrorf(utils.ErrRewrite, "%v", err))
		return "", false
	}
	abs := d.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false // javascript:, mailto:, data: and friends
	}
	if abs.Host == "" {
		d.result.Skipped++
		d.log.WithField("url", value).Warnf("Leaving reference unrewritten: %v", utils.WrapErrorf(utils.ErrRewrite, "resolved URL has no host"))
		return "", false
	}

	target := stripFragment(abs)
	key := target.String()
	class := d.rw.rules.Classify(key, d.current)
	if class.Excluded {
		return "", false
	}
	isPage := class.IsPage() && !d.rw.noPages
	if anchor && !isPage {
		return "", false // Not in scope: keep linking to the live site
	}

	fragment := ""
	if abs.Fragment != "" {
		fragment = "#" + abs.EscapedFragment()
	}

	if isPage {
		localPath := d.rw.mapper.ToLocalPath(target, pathmap.ExtHTML)
		if class.Discoverable && key != d.current && !d.seenPages[key] && !pathmap.Exists(localPath) {
			d.seenPages[key] = true
			d.result.Pages = append(d.result.Pages, key)
			d.log.WithFields(logrus.Fields{"url": key, "path": localPath}).Debug("Discovered page")
		}
		d.result.Rewritten++
		return d.rw.mapper.ToRelativeRef(d.path, localPath) + fragment, true
	}

	localPath := d.rw.mapper.ToLocalPath(target, extHint)
	if d.sink != nil {
		d.sink.Fetch(target, d.path, extHint)
		d.result.Resources++
	}
	d.result.Rewritten++
	return d.rw.mapper.ToRelativeRef(d.path, localPath) + fragment, true
}

func stripFragment(u *url.URL) *url.URL {
	if u.Fragment == "" && u.RawFragment == "" {
		return u
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return &c
}
