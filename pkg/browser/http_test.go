package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/wwwsave/pkg/config"
	"github.com/Sriram-PR/wwwsave/pkg/fetch"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

func newHTTPProvider(t *testing.T) (*HTTPProvider, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body>moved here</body></html>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := &config.AppConfig{InitialRetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}
	fetcher := fetch.NewFetcher(&http.Client{Timeout: 5 * time.Second}, cfg, "wwwsave-test", discardLogger())
	return NewHTTPProvider(fetcher, discardLogger()), server
}

func TestHTTPProvider_Navigate(t *testing.T) {
	p, server := newHTTPProvider(t)
	ctx := context.Background()

	_, err := p.CurrentURL(ctx)
	assert.ErrorIs(t, err, utils.ErrFetch, "nothing loaded yet")

	final, err := p.Navigate(ctx, server.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/new/", final)

	current, err := p.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, final, current)

	markup, err := p.CurrentMarkup(ctx)
	require.NoError(t, err)
	assert.Contains(t, markup, "moved here")
	assert.NoError(t, p.Close())
}

func TestHTTPProvider_NotFoundKeepsPreviousPage(t *testing.T) {
	p, server := newHTTPProvider(t)
	ctx := context.Background()

	_, err := p.Navigate(ctx, server.URL+"/new/")
	require.NoError(t, err)

	_, err = p.Navigate(ctx, server.URL+"/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFetch)

	current, err := p.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/new/", current)
}

func TestHTTPProvider_CannotLogIn(t *testing.T) {
	p, _ := newHTTPProvider(t)
	_, err := NewLogin(p, testLoginConfig(), &url.URL{Scheme: "https", Host: "example.com"}, discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrLogin)
}

type fakeCookieSource struct {
	fakeSite
	cookies []*http.Cookie
}

func (f *fakeCookieSource) Cookies(context.Context, *url.URL) ([]*http.Cookie, error) {
	return f.cookies, nil
}

func TestShareCookies(t *testing.T) {
	u, err := url.Parse("https://example.com/")
	require.NoError(t, err)
	jar := fetch.NewCookieJar()

	src := &fakeCookieSource{cookies: []*http.Cookie{{Name: "session", Value: "abc", Path: "/"}}}
	n, err := ShareCookies(context.Background(), src, jar, u)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, jar.Cookies(u), 1)
	assert.Equal(t, "abc", jar.Cookies(u)[0].Value)

	n, err = ShareCookies(context.Background(), newFakeSite(nil), jar, u)
	require.NoError(t, err)
	assert.Zero(t, n, "providers without cookies are skipped")
}
