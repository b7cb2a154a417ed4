// Package browser supplies rendered page markup to the archiver: a headless
// Chromium provider for sites that need JavaScript or a login, a plain HTTP
// provider for everything else, and the login state machine.
package browser

import (
	"context"
	"net/http"
	"net/url"
)

// PageProvider renders pages one at a time.
type PageProvider interface {
	// Navigate loads rawURL and returns the URL the page settled on after redirects.
	Navigate(ctx context.Context, rawURL string) (finalURL string, err error)
	// CurrentURL returns the URL of the loaded page.
	CurrentURL(ctx context.Context) (string, error)
	// CurrentMarkup returns the serialized DOM (or body) of the loaded page.
	CurrentMarkup(ctx context.Context) (string, error)
	Close() error
}

// FormDriver is implemented by providers that can interact with a loaded page.
type FormDriver interface {
	// FillField types value into the form element named name, replacing its content.
	FillField(ctx context.Context, name, value string) error
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// SubmitForm submits the form matching selector without clicking a button.
	SubmitForm(ctx context.Context, selector string) error
}

// CookieSource is implemented by providers holding session cookies that HTTP resource fetches should reuse.
type CookieSource interface {
	Cookies(ctx context.Context, u *url.URL) ([]*http.Cookie, error)
}

// ShareCookies copies the provider's cookies for u into jar. Providers without cookies are ignored.
func ShareCookies(ctx context.Context, p PageProvider, jar http.CookieJar, u *url.URL) (int, error) {
	src, ok := p.(CookieSource)
	if !ok || jar == nil {
		return 0, nil
	}
	cookies, err := src.Cookies(ctx, u)
	if err != nil {
		return 0, err
	}
	jar.SetCookies(u, cookies)
	return len(cookies), nil
}
