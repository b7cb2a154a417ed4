// Package archive drives one archive run of a site: login, site identity,
// the sequential crawl loop (or a single-page capture) and the end-of-run
// bookkeeping.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/wwwsave/pkg/browser"
	"github.com/Sriram-PR/wwwsave/pkg/config"
	"github.com/Sriram-PR/wwwsave/pkg/fetch"
	"github.com/Sriram-PR/wwwsave/pkg/models"
	"github.com/Sriram-PR/wwwsave/pkg/storage"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

const usernamePlaceholder = "{{username}}"

// Phase is a state of the run.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseLogin
	PhaseEstablishSiteIdentity
	PhaseSinglePage
	PhaseCrawlLoop
	PhaseLogout
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "Init"
	case PhaseLogin:
		return "Login"
	case PhaseEstablishSiteIdentity:
		return "EstablishSiteIdentity"
	case PhaseSinglePage:
		return "SinglePage"
	case PhaseCrawlLoop:
		return "CrawlLoop"
	case PhaseLogout:
		return "Logout"
	case PhaseDone:
		return "Done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ProviderFactory creates the page provider of a run. fetcher shares the run's cookie jar.
type ProviderFactory func(ctx context.Context, renderer string, fetcher *fetch.Fetcher) (browser.PageProvider, error)

// RunOptions are the per-invocation switches of a run.
type RunOptions struct {
	Resume      bool
	Force       bool   // Write into an existing output directory instead of moving it aside
	URL         string // Single page to save, overriding the site's url and home_page
	Credentials browser.Credentials
}

// Archiver archives one configured site.
type Archiver struct {
	appCfg      *config.AppConfig
	siteKey     string
	siteCfg     config.SiteConfig
	newProvider ProviderFactory
	history     *storage.RunHistory
	log         *logrus.Entry
}

// Option customizes an Archiver
type Option func(*Archiver)

// WithProviderFactory replaces the default renderer selection
func WithProviderFactory(f ProviderFactory) Option {
	return func(a *Archiver) { a.newProvider = f }
}

// WithRunHistory records every run's outcome in h
func WithRunHistory(h *storage.RunHistory) Option {
	return func(a *Archiver) { a.history = h }
}

// New creates an Archiver. appCfg and siteCfg are expected to be validated.
func New(appCfg *config.AppConfig, siteKey string, siteCfg config.SiteConfig, log *logrus.Entry, opts ...Option) *Archiver {
	a := &Archiver{
		appCfg:  appCfg,
		siteKey: siteKey,
		siteCfg: siteCfg,
		log:     log.WithField("site_key", siteKey),
	}
	a.newProvider = a.defaultProvider
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// defaultProvider picks the HTTP renderer or launches Chromium.
func (a *Archiver) defaultProvider(_ context.Context, renderer string, fetcher *fetch.Fetcher) (browser.PageProvider, error) {
	if renderer == config.RendererHTTP {
		return browser.NewHTTPProvider(fetcher, a.log), nil
	}
	width, height, err := config.ParseViewport(config.GetEffectiveViewport(a.siteCfg, *a.appCfg))
	if err != nil {
		a.log.Warnf("Ignoring viewport: %v", err)
	}
	return browser.NewRodProvider(browser.RodOptions{
		BinPath:           a.appCfg.Browser.BinPath,
		Headless:          config.GetEffectiveHeadless(*a.appCfg),
		UserAgent:         config.GetEffectiveUserAgent(a.siteCfg, *a.appCfg),
		Width:             width,
		Height:            height,
		NavigationTimeout: a.appCfg.Browser.NavigationTimeout,
	}, a.log)
}

// Run performs one archive run. The summary is returned, and logged, on every exit path;
// the error is non-nil for fatal failures (login, resume state, filesystem) and interruptions.
func (a *Archiver) Run(ctx context.Context, opts RunOptions) (*models.RunSummary, error) {
	s := newSession(a, opts)
	err := s.run(ctx)
	summary := s.finish(err)
	if a.history != nil {
		a.history.Record(*summary, err)
		if saveErr := a.history.Save(); saveErr != nil {
			a.log.Warnf("Could not save run history: %v", saveErr)
		}
	}
	return summary, err
}

// newRunID returns the identifier written to the journal and the run history.
func newRunID() string {
	return uuid.NewString()
}

// entryURL resolves the URL the run starts from. loggedIn carries the login outcome, if any.
func (a *Archiver) entryURL(opts RunOptions, loggedIn *browser.LoginResult) (string, error) {
	raw := opts.URL
	if raw == "" {
		raw = a.siteCfg.URL
	}
	if raw == "" {
		raw = a.siteCfg.HomePage
		if loggedIn != nil {
			raw = strings.ReplaceAll(raw, usernamePlaceholder, loggedIn.Username)
		}
	}
	if raw == "" {
		if loggedIn == nil || loggedIn.HomePage == "" {
			return "", utils.WrapErrorf(utils.ErrConfigValidation, "site '%s' has no url or home_page", a.siteKey)
		}
		return loggedIn.HomePage, nil
	}

	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: entry URL '%s': %w", utils.ErrParsing, raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base := a.siteBase(loggedIn)
	if base == nil {
		return "", utils.WrapErrorf(utils.ErrConfigValidation, "cannot resolve '%s' without an absolute login page or home page", raw)
	}
	return base.ResolveReference(ref).String(), nil
}

// siteBase returns the first absolute URL known for the site, used to resolve root-relative settings.
func (a *Archiver) siteBase(loggedIn *browser.LoginResult) *url.URL {
	candidates := []string{a.siteCfg.URL, a.siteCfg.HomePage, a.siteCfg.Login.Page}
	if loggedIn != nil {
		candidates = append([]string{loggedIn.HomePage}, candidates...)
	}
	for _, c := range candidates {
		if u, err := url.Parse(c); err == nil && u.IsAbs() && u.Host != "" {
			return u
		}
	}
	return nil
}

// isInterruption reports whether err stems from the run context being cancelled.
func isInterruption(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// formatStart is used in the README and log lines
func formatStart(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
