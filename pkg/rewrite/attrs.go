package rewrite

import (
	"strings"

	"golang.org/x/net/html"
)

// attrSpan locates one attribute value inside a raw start tag.
type attrSpan struct {
	start, end int  // Value bytes, quotes excluded
	quote      byte // '"', '\'' or 0 when unquoted
	hasValue   bool
}

// attributes maps lowercased attribute names to their first occurrence.
type attributes map[string]attrSpan

// value returns the unescaped value of name, or "".
func (a attributes) value(raw, name string) string {
	s, ok := a[name]
	if !ok || !s.hasValue {
		return ""
	}
	return html.UnescapeString(raw[s.start:s.end])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// scanAttributes walks a raw start tag such as `<img src="a.png" alt=x>` following the
// tokenizer's attribute rules, recording where each value sits so it can be replaced in place.
func scanAttributes(raw string) attributes {
	n := len(raw)
	i := 1 // Past '<'
	for i < n && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' {
		i++
	}

	attrs := attributes{}
	for i < n {
		for i < n && (isSpace(raw[i]) || raw[i] == '/') {
			i++
		}
		if i >= n || raw[i] == '>' {
			break
		}

		nameStart := i
		i++ // A leading '=' belongs to the name
		for i < n && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' && raw[i] != '=' {
			i++
		}
		name := strings.ToLower(raw[nameStart:i])

		j := i
		for j < n && isSpace(raw[j]) {
			j++
		}
		if j >= n || raw[j] != '=' {
			if _, dup := attrs[name]; !dup {
				attrs[name] = attrSpan{}
			}
			continue
		}
		j++
		for j < n && isSpace(raw[j]) {
			j++
		}

		var span attrSpan
		span.hasValue = true
		if j < n && (raw[j] == '"' || raw[j] == '\'') {
			span.quote = raw[j]
			span.start = j + 1
			end := strings.IndexByte(raw[span.start:], span.quote)
			if end < 0 {
				span.end = n
				i = n
			} else {
				span.end = span.start + end
				i = span.end + 1
			}
		} else {
			span.start = j
			for j < n && !isSpace(raw[j]) && raw[j] != '>' {
				j++
			}
			span.end = j
			i = j
		}
		if _, dup := attrs[name]; !dup {
			attrs[name] = span
		}
	}
	return attrs
}
