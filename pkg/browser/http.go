package browser

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/wwwsave/pkg/fetch"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// HTTPProvider renders pages with a plain GET. Scripts never run, so it only
// suits sites whose markup is complete as served.
type HTTPProvider struct {
	getter fetch.Getter
	log    *logrus.Entry

	mu      sync.Mutex
	current string
	markup  string
}

// NewHTTPProvider creates a provider over getter
func NewHTTPProvider(getter fetch.Getter, log *logrus.Entry) *HTTPProvider {
	return &HTTPProvider{getter: getter, log: log.WithField("component", "http_renderer")}
}

// Navigate implements PageProvider.
func (p *HTTPProvider) Navigate(ctx context.Context, rawURL string) (string, error) {
	resp, err := p.getter.Get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	final := rawURL
	if resp.FinalURL != nil {
		final = resp.FinalURL.String()
	}
	if final != rawURL {
		p.log.Debugf("%s redirected to %s", rawURL, final)
	}

	p.mu.Lock()
	p.current = final
	p.markup = string(resp.Body)
	p.mu.Unlock()
	return final, nil
}

// CurrentURL implements PageProvider.
func (p *HTTPProvider) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" {
		return "", utils.WrapErrorf(utils.ErrFetch, "no page loaded")
	}
	return p.current, nil
}

// CurrentMarkup implements PageProvider.
func (p *HTTPProvider) CurrentMarkup(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" {
		return "", utils.WrapErrorf(utils.ErrFetch, "no page loaded")
	}
	return p.markup, nil
}

// Close implements PageProvider.
func (p *HTTPProvider) Close() error { return nil }

var _ PageProvider = (*HTTPProvider)(nil)
