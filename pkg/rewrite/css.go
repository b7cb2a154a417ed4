package rewrite

import (
	"regexp"
	"strings"

	"github.com/Sriram-PR/wwwsave/pkg/pathmap"
)

var (
	cssURLPattern = regexp.MustCompile(`(?i)(url\s*\(\s*['"]?)([^)'"]*?)(['"]?\s*\))`)
	// Only absolute and root-relative tokens are followed; data: URIs and relative tokens stay as they are.
	cssFollowable = regexp.MustCompile(`(?i)^[h/]`)
)

// rewriteCSS rewrites url() tokens of a stylesheet body. Everything outside the token values is copied verbatim.
func (d *document) rewriteCSS(text string) string {
	matches := cssURLPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))
	last := 0
	for _, m := range matches {
		valStart, valEnd := m[4], m[5]
		value := text[valStart:valEnd]
		if !cssFollowable.MatchString(value) {
			continue
		}
		replacement, ok := d.rewriteRef(value, pathmap.ExtImage, false)
		if !ok {
			continue
		}
		out.WriteString(text[last:valStart])
		out.WriteString(replacement)
		last = valEnd
	}
	out.WriteString(text[last:])
	return out.String()
}
