// Package pathmap maps absolute URLs to deterministic local file paths under an
// archive root, and computes the relative references written into saved markup.
package pathmap

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Extension hints by reference context.
const (
	ExtHTML  = "html"
	ExtCSS   = "css"
	ExtJS    = "js"
	ExtImage = "png"
)

const (
	maxSegmentLength = 255 // Common filesystem limit on a single filename, in bytes
	sentinelSlash    = "_S_"
	sentinelQuery    = "_Q_"
	sentinelPercent  = "_P_"
)

var hasExtension = regexp.MustCompile(`\.[^./]+$`)

// SiteIdentity is the scheme, host and port of the post-redirect entry URL of a run.
type SiteIdentity struct {
	Scheme string
	Host   string // Lowercased hostname without port
	Port   string // Explicit or scheme default
}

// IdentityOf derives the site identity from an absolute URL.
func IdentityOf(u *url.URL) SiteIdentity {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		port = defaultPort(scheme)
	}
	return SiteIdentity{Scheme: scheme, Host: strings.ToLower(u.Hostname()), Port: port}
}

// String renders the identity as an origin, omitting a default port.
func (id SiteIdentity) String() string {
	if id.Port == defaultPort(id.Scheme) {
		return id.Scheme + "://" + id.Host
	}
	return id.Scheme + "://" + id.Host + ":" + id.Port
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// Mapper computes local paths for one run. It holds no mutable state and is safe for concurrent use.
type Mapper struct {
	identity SiteIdentity
	root     string // Slash-separated, no trailing slash (except for "/")
}

// NewMapper creates a Mapper for the given identity and output root.
func NewMapper(identity SiteIdentity, outputRoot string) *Mapper {
	root := filepath.ToSlash(filepath.Clean(outputRoot))
	return &Mapper{identity: identity, root: root}
}

// Identity returns the site identity the mapper was built with.
func (m *Mapper) Identity() SiteIdentity { return m.identity }

// Root returns the slash-separated output root.
func (m *Mapper) Root() string { return m.root }

// InSite reports whether u shares the site identity's host and port.
// The port default comes from the identity's scheme, so http and https links to the same host compare equal.
func (m *Mapper) InSite(u *url.URL) bool {
	port := u.Port()
	if port == "" {
		port = defaultPort(m.identity.Scheme)
	}
	return strings.EqualFold(u.Hostname(), m.identity.Host) && port == m.identity.Port
}

// ToLocalPath maps an absolute URL to its slash-separated local path under the output root.
// The fragment never takes part in the mapping. An empty extHint means html.
// A path whose last segment lacks an extension gets one from extHint, except for html
// where the segment becomes a directory holding index.html.
func (m *Mapper) ToLocalPath(u *url.URL, extHint string) string {
	if extHint == "" {
		extHint = ExtHTML
	}

	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	// Only the last path segment can carry the extension; dots in the query do not count.
	segmentHasExt := hasExtension.MatchString(p[strings.LastIndex(p, "/")+1:])
	if !m.InSite(u) {
		p = "/" + strings.ToLower(u.Host) + p
	}
	if u.RawQuery != "" || u.ForceQuery {
		p += strings.ReplaceAll("?"+u.RawQuery, "/", sentinelSlash)
	}
	p = strings.ReplaceAll(p, "?", sentinelQuery)
	p = strings.ReplaceAll(p, "%", sentinelPercent)

	if strings.HasSuffix(p, "/") {
		p += "index." + extHint
		segmentHasExt = true
	}
	if !segmentHasExt {
		// Extensionless pages are directory-style: /u/bob/2 is saved as u/bob/2/index.html
		if extHint == ExtHTML {
			p += "/index." + extHint
		} else {
			p += "." + extHint
		}
	}

	return m.join(truncateSegments(strings.TrimLeft(p, "/")))
}

// ToRelativeRef returns the reference to write into the file at fromPath so that it addresses toPath.
// Both paths are expected under the output root.
func (m *Mapper) ToRelativeRef(fromPath, toPath string) string {
	from := m.RootRelative(fromPath)
	to := m.RootRelative(toPath)
	depth := strings.Count(from, "/")
	if depth == 0 {
		return "./" + to
	}
	return strings.Repeat("../", depth) + to
}

// RootRelative strips the output root (and the separator after it) from a mapped path.
func (m *Mapper) RootRelative(localPath string) string {
	p := filepath.ToSlash(localPath)
	if m.root == "." {
		return strings.TrimPrefix(strings.TrimPrefix(p, "./"), "/")
	}
	if rest, ok := strings.CutPrefix(p, m.root); ok {
		return strings.TrimLeft(rest, "/")
	}
	return strings.TrimLeft(p, "/")
}

// FilePath converts a mapped path to the OS-specific form used for filesystem calls.
func FilePath(localPath string) string {
	return filepath.FromSlash(localPath)
}

// Exists reports whether a file is already saved at the mapped path.
func Exists(localPath string) bool {
	info, err := os.Stat(FilePath(localPath))
	return err == nil && !info.IsDir()
}

func (m *Mapper) join(rel string) string {
	switch m.root {
	case "/":
		return "/" + rel
	case ".":
		return "./" + rel
	}
	return m.root + "/" + rel
}

// truncateSegments cuts every segment longer than the filesystem limit.
// Two URLs differing only past the limit then share a path; that loss is accepted.
func truncateSegments(p string) string {
	segments := strings.Split(p, "/")
	changed := false
	for i, seg := range segments {
		if len(seg) > maxSegmentLength {
			segments[i] = seg[:maxSegmentLength]
			changed = true
		}
	}
	if !changed {
		return p
	}
	return strings.Join(segments, "/")
}
