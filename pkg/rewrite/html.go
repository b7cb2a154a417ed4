package rewrite

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/Sriram-PR/wwwsave/pkg/pathmap"
)

// RewriteHTML rewrites the references of a markup document saved at docPath.
// Only attribute value bytes and style bodies change; all other bytes are copied through.
func (rw *Rewriter) RewriteHTML(text string, docURL *url.URL, docPath string, sink ResourceSink) Result {
	d := rw.newDocument(docURL, docPath, sink)
	d.result.Text = d.rewriteHTML(text)
	return d.result
}

func (d *document) rewriteHTML(text string) string {
	z := html.NewTokenizer(strings.NewReader(text))
	var out strings.Builder
	out.Grow(len(text) + len(text)/8)

	rawTextParent := "" // style or noscript while inside their raw text body
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				d.log.Warnf("Markup tokenizer stopped early: %v", err)
			}
			break
		}
		raw := string(z.Raw()) // Copy first: TagName lowercases the buffer in place

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			out.WriteString(d.rewriteTag(tag, raw))
			if tt == html.StartTagToken && (tag == "style" || tag == "noscript") {
				rawTextParent = tag
			}
		case html.EndTagToken:
			rawTextParent = ""
			out.WriteString(raw)
		case html.TextToken:
			switch rawTextParent {
			case "style":
				out.WriteString(d.rewriteCSS(raw))
			case "noscript":
				out.WriteString(d.rewriteHTML(raw))
			default:
				out.WriteString(raw)
			}
		default:
			out.WriteString(raw)
		}
	}
	return out.String()
}

// edit replaces raw[start:end] with value.
type edit struct {
	start, end int
	value      string
}

// rewriteTag rewrites the reference attributes and style attribute of one start tag.
func (d *document) rewriteTag(tag, raw string) string {
	attrs := scanAttributes(raw)
	if len(attrs) == 0 {
		return raw
	}

	var edits []edit
	rewriteAttr := func(name, extHint string, anchor bool) {
		a, ok := attrs[name]
		if !ok || !a.hasValue {
			return
		}
		if v, changed := d.rewriteRef(html.UnescapeString(raw[a.start:a.end]), extHint, anchor); changed {
			edits = append(edits, edit{a.start, a.end, escapeAttr(v, a.quote)})
		}
	}

	switch tag {
	case "a", "area":
		rewriteAttr("href", pathmap.ExtHTML, true)
	case "link":
		rel := strings.ToLower(attrs.value(raw, "rel"))
		switch {
		case strings.Contains(rel, "stylesheet"):
			rewriteAttr("href", pathmap.ExtCSS, false)
		case strings.Contains(rel, "icon"):
			rewriteAttr("href", pathmap.ExtImage, false)
		}
	case "img":
		rewriteAttr("src", pathmap.ExtImage, false)
	case "script":
		rewriteAttr("src", pathmap.ExtJS, false)
	case "iframe", "frame":
		rewriteAttr("src", pathmap.ExtHTML, false)
	case "base":
		d.rebase(raw, attrs, &edits)
	}

	if a, ok := attrs["style"]; ok && a.hasValue {
		css := html.UnescapeString(raw[a.start:a.end])
		if rewritten := d.rewriteCSS(css); rewritten != css {
			edits = append(edits, edit{a.start, a.end, escapeAttr(rewritten, a.quote)})
		}
	}

	return applyEdits(raw, edits)
}

// rebase honours <base href> for resolution and points it at the saved document itself,
// so the relative references written into the copy resolve against its own directory.
func (d *document) rebase(raw string, attrs attributes, edits *[]edit) {
	a, ok := attrs["href"]
	if !ok || !a.hasValue {
		return
	}
	ref, err := url.Parse(strings.TrimSpace(html.UnescapeString(raw[a.start:a.end])))
	if err != nil {
		d.result.Skipped++
		d.log.Warnf("Ignoring malformed <base href>: %v", err)
		return
	}
	d.base = d.base.ResolveReference(ref)
	self := d.rw.mapper.ToRelativeRef(d.path, d.path)
	*edits = append(*edits, edit{a.start, a.end, escapeAttr(self, a.quote)})
}

func applyEdits(raw string, edits []edit) string {
	if len(edits) == 0 {
		return raw
	}
	// Edits are collected per attribute; sort by position so they apply left to right.
	for i := 1; i < len(edits); i++ {
		for j := i; j > 0 && edits[j].start < edits[j-1].start; j-- {
			edits[j], edits[j-1] = edits[j-1], edits[j]
		}
	}
	var out strings.Builder
	last := 0
	for _, e := range edits {
		if e.start < last {
			continue
		}
		out.WriteString(raw[last:e.start])
		out.WriteString(e.value)
		last = e.end
	}
	out.WriteString(raw[last:])
	return out.String()
}

// escapeAttr escapes a new attribute value for the quoting style the original used.
func escapeAttr(v string, quote byte) string {
	v = strings.ReplaceAll(v, "&", "&amp;")
	switch quote {
	case '"':
		return strings.ReplaceAll(v, `"`, "&quot;")
	case '\'':
		return strings.ReplaceAll(v, "'", "&#39;")
	}
	r := strings.NewReplacer(`"`, "&quot;", "'", "&#39;", "<", "&lt;", ">", "&gt;", "=", "&#61;", "`", "&#96;", " ", "&#32;")
	return r.Replace(v)
}
