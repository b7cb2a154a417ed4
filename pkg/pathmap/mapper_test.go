package pathmap

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestMapper(t *testing.T, home, root string) *Mapper {
	return NewMapper(IdentityOf(mustParse(t, home)), root)
}

func TestToLocalPath(t *testing.T) {
	m := newTestMapper(t, "http://x.test/u/bob/", "/out")

	tests := []struct {
		name string
		url  string
		ext  string
		want string
	}{
		{"DirectoryPage", "http://x.test/u/bob/", ExtHTML, "/out/u/bob/index.html"},
		{"PageWithoutExtension", "http://x.test/u/bob/2", ExtHTML, "/out/u/bob/2/index.html"},
		{"BareRoot", "http://x.test", ExtHTML, "/out/index.html"},
		{"ImageKeepsExtension", "http://x.test/img/a.png", ExtImage, "/out/img/a.png"},
		{"ImageWithoutExtension", "http://x.test/avatar/42", ExtImage, "/out/avatar/42.png"},
		{"EmptyHintDefaultsToHTML", "http://x.test/about", "", "/out/about/index.html"},
		{"QuerySentinels", "http://x.test/s?a=b/c&d=%20", ExtHTML, "/out/s_Q_a=b_S_c&d=_P_20/index.html"},
		{"QueryAfterExtension", "http://x.test/a.css?v=1", ExtCSS, "/out/a.css_Q_v=1"},
		{"DoubleQuery", "http://l.test/??a.css,b.css", ExtCSS, "/out/l.test/_Q__Q_a.css,b.css.css"},
		{"DotInQueryPage", "http://x.test/search?q=a.b", ExtHTML, "/out/search_Q_q=a.b/index.html"},
		{"DotInQueryResource", "http://x.test/view?f=pic.php", ExtImage, "/out/view_Q_f=pic.php.png"},
		{"EscapedPathNotDecoded", "http://x.test/a%20b.png", ExtImage, "/out/a_P_20b.png"},
		{"FragmentIgnored", "http://x.test/u/bob/2#top", ExtHTML, "/out/u/bob/2/index.html"},
		{"CrossOrigin", "https://cdn.test/lib/app.js", ExtJS, "/out/cdn.test/lib/app.js"},
		{"CrossOriginPort", "http://x.test:8080/a.js", ExtJS, "/out/x.test:8080/a.js"},
		{"SchemeDefaultPortInSite", "http://x.test:80/a.js", ExtJS, "/out/a.js"},
		{"OtherSchemeSameHost", "https://x.test/secure.css", ExtCSS, "/out/secure.css"},
		{"LeadingDoubleSlashPath", "http://x.test//double/a.png", ExtImage, "/out/double/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.ToLocalPath(mustParse(t, tt.url), tt.ext))
		})
	}
}

func TestToLocalPath_NeverDoubleSeparatorAfterRoot(t *testing.T) {
	for _, root := range []string{"/out", "/out/", "out", "./out/", "."} {
		m := newTestMapper(t, "http://x.test/", root)
		for _, raw := range []string{"http://x.test", "http://x.test/", "http://x.test//a", "http://x.test/a/b/"} {
			p := m.ToLocalPath(mustParse(t, raw), ExtHTML)
			rest := strings.TrimPrefix(p, m.Root())
			assert.False(t, strings.HasPrefix(rest, "//"), "root %q url %q gave %q", root, raw, p)
			assert.NotContains(t, p[:len(m.Root())+1], "//")
		}
	}
}

func TestToLocalPath_Deterministic(t *testing.T) {
	m := newTestMapper(t, "http://x.test/", "/out")
	u := mustParse(t, "http://x.test/p?q=1/2")
	first := m.ToLocalPath(u, ExtHTML)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.ToLocalPath(u, ExtHTML))
	}
	assert.Equal(t, first, newTestMapper(t, "http://x.test/", "/out").ToLocalPath(mustParse(t, "http://x.test/p?q=1/2"), ExtHTML))
}

func TestToLocalPath_TruncatesLongSegments(t *testing.T) {
	m := newTestMapper(t, "http://x.test/", "/out")
	long := strings.Repeat("a", 300)
	p := m.ToLocalPath(mustParse(t, "http://x.test/"+long+"/b.png"), ExtImage)

	segments := strings.Split(m.RootRelative(p), "/")
	require.Len(t, segments, 2)
	assert.Len(t, segments[0], maxSegmentLength)
	assert.Equal(t, "b.png", segments[1])

	// Distinct URLs sharing the first 255 bytes collide; accepted loss.
	other := m.ToLocalPath(mustParse(t, "http://x.test/"+long+"zzz/b.png"), ExtImage)
	assert.Equal(t, p, other)
}

func TestToRelativeRef(t *testing.T) {
	m := newTestMapper(t, "http://x.test/", "/out")
	assert.Equal(t, "../../img/a.png", m.ToRelativeRef("/out/u/bob/index.html", "/out/img/a.png"))
	assert.Equal(t, "./img/a.png", m.ToRelativeRef("/out/index.html", "/out/img/a.png"))
	assert.Equal(t, "../u/bob/2/index.html", m.ToRelativeRef("/out/css/site.css", "/out/u/bob/2/index.html"))
}

func TestToRelativeRef_RoundTrip(t *testing.T) {
	m := newTestMapper(t, "http://x.test/u/bob/", "/out")
	froms := []string{"http://x.test/", "http://x.test/u/bob/", "http://x.test/a/b/c/d.html", "https://cdn.test/x/y.css"}
	tos := []string{"http://x.test/img/a.png", "http://x.test/u/bob/2", "https://cdn.test/lib/app.js?v=2", "http://x.test/"}

	for _, from := range froms {
		fromPath := m.ToLocalPath(mustParse(t, from), ExtHTML)
		for _, to := range tos {
			toPath := m.ToLocalPath(mustParse(t, to), ExtHTML)
			ref := m.ToRelativeRef(fromPath, toPath)
			resolved := path.Join(path.Dir(fromPath), ref)
			assert.Equal(t, toPath, resolved, "from %s to %s via %s", fromPath, toPath, ref)
		}
	}
}

func TestIdentityOf(t *testing.T) {
	id := IdentityOf(mustParse(t, "HTTPS://Example.COM/home"))
	assert.Equal(t, SiteIdentity{Scheme: "https", Host: "example.com", Port: "443"}, id)
	assert.Equal(t, "https://example.com", id.String())
	assert.Equal(t, "http://x.test:8080", IdentityOf(mustParse(t, "http://x.test:8080/")).String())
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.html")
	assert.False(t, Exists(filepath.ToSlash(file)))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.True(t, Exists(filepath.ToSlash(file)))
	assert.False(t, Exists(filepath.ToSlash(dir)))
}
