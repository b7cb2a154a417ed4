package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// RodOptions configures the headless browser.
type RodOptions struct {
	BinPath           string // Empty lets the launcher find or download Chromium
	Headless          bool
	UserAgent         string
	Width, Height     int
	NavigationTimeout time.Duration
}

// RodProvider renders pages in one Chromium tab driven over the DevTools protocol.
type RodProvider struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	opts     RodOptions
	log      *logrus.Entry
}

// NewRodProvider launches Chromium and opens the tab every navigation reuses.
func NewRodProvider(opts RodOptions, log *logrus.Entry) (*RodProvider, error) {
	l := launcher.New().Headless(opts.Headless)
	if opts.BinPath != "" {
		l = l.Bin(opts.BinPath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		l.Kill()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			log.Warnf("Could not set user agent: %v", err)
		}
	}
	if opts.Width > 0 && opts.Height > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			log.Warnf("Could not set viewport: %v", err)
		}
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}

	log.WithFields(logrus.Fields{"headless": opts.Headless, "viewport": fmt.Sprintf("%dx%d", opts.Width, opts.Height)}).Info("Browser started")
	return &RodProvider{launcher: l, browser: browser, page: page, opts: opts, log: log.WithField("component", "browser")}, nil
}

// tab returns the page bound to ctx with the navigation timeout applied.
func (p *RodProvider) tab(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.opts.NavigationTimeout)
}

// Navigate implements PageProvider.
func (p *RodProvider) Navigate(ctx context.Context, rawURL string) (string, error) {
	tab := p.tab(ctx)
	if err := tab.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("%w: navigate %s: %w", utils.ErrFetch, rawURL, err)
	}
	if err := tab.WaitLoad(); err != nil {
		return "", fmt.Errorf("%w: wait for load of %s: %w", utils.ErrFetch, rawURL, err)
	}
	return p.CurrentURL(ctx)
}

// CurrentURL implements PageProvider.
func (p *RodProvider) CurrentURL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("%w: page info: %w", utils.ErrFetch, err)
	}
	return info.URL, nil
}

// CurrentMarkup implements PageProvider.
func (p *RodProvider) CurrentMarkup(ctx context.Context) (string, error) {
	markup, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("%w: read markup: %w", utils.ErrFetch, err)
	}
	return markup, nil
}

// FillField implements FormDriver.
func (p *RodProvider) FillField(ctx context.Context, name, value string) error {
	el, err := p.tab(ctx).Element(fmt.Sprintf(`[name=%q]`, name))
	if err != nil {
		return fmt.Errorf("find field %q: %w", name, err)
	}
	if err := el.SelectAllText(); err != nil {
		p.log.Debugf("Could not select existing text of %q: %v", name, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill field %q: %w", name, err)
	}
	return nil
}

// Click implements FormDriver.
func (p *RodProvider) Click(ctx context.Context, selector string) error {
	el, err := p.tab(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// SubmitForm implements FormDriver.
func (p *RodProvider) SubmitForm(ctx context.Context, selector string) error {
	el, err := p.tab(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find form %q: %w", selector, err)
	}
	if _, err := el.Eval(`() => this.submit()`); err != nil {
		return fmt.Errorf("submit form %q: %w", selector, err)
	}
	return nil
}

// Cookies implements CookieSource.
func (p *RodProvider) Cookies(ctx context.Context, u *url.URL) ([]*http.Cookie, error) {
	raw, err := p.page.Context(ctx).Cookies([]string{u.String()})
	if err != nil {
		return nil, fmt.Errorf("read browser cookies: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, hc)
	}
	return cookies, nil
}

// Close shuts the browser down and removes its temporary profile.
func (p *RodProvider) Close() error {
	var err error
	if p.browser != nil {
		err = p.browser.Close()
	}
	if p.launcher != nil {
		p.launcher.Kill()
		p.launcher.Cleanup()
	}
	p.log.Debug("Browser closed")
	return err
}

var (
	_ PageProvider = (*RodProvider)(nil)
	_ FormDriver   = (*RodProvider)(nil)
	_ CookieSource = (*RodProvider)(nil)
)
