package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/wwwsave/pkg/config"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// LoginState is a state of the login machine.
type LoginState int

const (
	LoginIdle LoginState = iota
	LoginNavigating
	LoginWaitingForCondition
	LoginEvaluating
	LoginFailed
	LoginDone
)

func (s LoginState) String() string {
	switch s {
	case LoginIdle:
		return "Idle"
	case LoginNavigating:
		return "Navigating"
	case LoginWaitingForCondition:
		return "WaitingForCondition"
	case LoginEvaluating:
		return "Evaluating"
	case LoginFailed:
		return "Failed"
	case LoginDone:
		return "Done"
	default:
		return fmt.Sprintf("LoginState(%d)", int(s))
	}
}

// Credentials are the values typed into the login form.
type Credentials struct {
	Username string
	Password string
}

// LoginResult describes the authenticated session.
type LoginResult struct {
	Username string // Account name as the site shows it; the login name when not extracted
	HomePage string // URL the session settled on
}

// Login drives a provider through a site's login form.
type Login struct {
	provider PageProvider
	driver   FormDriver
	cfg      config.LoginConfig
	base     *url.URL
	log      *logrus.Entry

	state   LoginState
	history []LoginState
}

// NewLogin creates a login machine. base resolves a root-relative login page.
// The provider must also implement FormDriver.
func NewLogin(p PageProvider, cfg config.LoginConfig, base *url.URL, log *logrus.Entry) (*Login, error) {
	driver, ok := p.(FormDriver)
	if !ok {
		return nil, utils.WrapErrorf(utils.ErrLogin, "renderer %T cannot fill in forms", p)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 || cfg.PollInterval > cfg.Timeout {
		cfg.PollInterval = min(250*time.Millisecond, cfg.Timeout)
	}
	return &Login{
		provider: p,
		driver:   driver,
		cfg:      cfg,
		base:     base,
		log:      log.WithField("component", "login"),
		state:    LoginIdle,
		history:  []LoginState{LoginIdle},
	}, nil
}

// State returns the current state
func (l *Login) State() LoginState { return l.state }

// History returns every state entered, in order
func (l *Login) History() []LoginState {
	out := make([]LoginState, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Login) enter(s LoginState) {
	l.log.Debugf("Login state %s -> %s", l.state, s)
	l.state = s
	l.history = append(l.history, s)
}

func (l *Login) fail(err error) error {
	l.enter(LoginFailed)
	if errors.Is(err, utils.ErrLogin) {
		return err
	}
	return fmt.Errorf("%w: %w", utils.ErrLogin, err)
}

// Run logs in with creds. Any failure wraps utils.ErrLogin and leaves the machine in LoginFailed.
func (l *Login) Run(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if l.state != LoginIdle {
		return nil, utils.WrapErrorf(utils.ErrLogin, "login already ran (state %s)", l.state)
	}
	loginURL, err := l.resolve(l.cfg.Page)
	if err != nil {
		return nil, l.fail(err)
	}

	l.enter(LoginNavigating)
	if _, err := l.provider.Navigate(ctx, loginURL); err != nil {
		return nil, l.fail(fmt.Errorf("load login page: %w", err))
	}

	l.enter(LoginWaitingForCondition)
	var missing []string
	_, err = l.waitFor(ctx, "login form", func(doc *goquery.Document) bool {
		missing = l.missingFormParts(doc)
		return len(missing) == 0
	})
	if err != nil {
		if len(missing) > 0 {
			err = fmt.Errorf("%w; could not find %s", err, strings.Join(missing, ", "))
		}
		return nil, l.fail(err)
	}

	l.enter(LoginEvaluating)
	if err := l.submit(ctx, creds); err != nil {
		return nil, l.fail(err)
	}

	l.enter(LoginWaitingForCondition)
	var siteError string
	doc, err := l.waitFor(ctx, "login result", func(doc *goquery.Document) bool {
		if l.cfg.ErrorTextSelector != "" {
			if sel := doc.Find(l.cfg.ErrorTextSelector); sel.Length() > 0 {
				siteError = strings.TrimSpace(sel.First().Text())
				return true
			}
		}
		return doc.Find(l.cfg.SuccessElementSelector).Length() > 0
	})
	if err != nil {
		return nil, l.fail(fmt.Errorf("could not determine login success or failure: %w", err))
	}

	l.enter(LoginEvaluating)
	if siteError != "" || doc.Find(l.cfg.SuccessElementSelector).Length() == 0 {
		if siteError == "" {
			siteError = "error element present"
		}
		return nil, l.fail(utils.WrapErrorf(utils.ErrLogin, "site reported: %s", siteError))
	}

	result, err := l.evaluateSession(ctx, doc, creds)
	if err != nil {
		return nil, l.fail(err)
	}

	l.enter(LoginDone)
	l.log.WithFields(logrus.Fields{"user": result.Username, "home_page": result.HomePage}).Info("Logged in")
	return result, nil
}

// missingFormParts lists the login form elements absent from doc.
func (l *Login) missingFormParts(doc *goquery.Document) []string {
	var missing []string
	scope := doc.Selection
	if l.cfg.FormSelector != "" {
		form := doc.Find(l.cfg.FormSelector)
		if form.Length() == 0 {
			return []string{fmt.Sprintf("form %q", l.cfg.FormSelector)}
		}
		scope = form.First()
	}
	if scope.Find(fieldSelector(l.cfg.UsernameField)).Length() == 0 {
		missing = append(missing, fmt.Sprintf("username field %q", l.cfg.UsernameField))
	}
	if scope.Find(fieldSelector(l.cfg.PasswordField)).Length() == 0 {
		missing = append(missing, fmt.Sprintf("password field %q", l.cfg.PasswordField))
	}
	if config.GetEffectiveSubmitViaButton(l.cfg) {
		btn := doc.Find(l.cfg.SubmitSelector)
		if btn.Length() == 0 {
			missing = append(missing, fmt.Sprintf("submit button %q", l.cfg.SubmitSelector))
		} else if _, disabled := btn.First().Attr("disabled"); disabled {
			missing = append(missing, fmt.Sprintf("enabled submit button %q", l.cfg.SubmitSelector))
		}
	}
	return missing
}

func (l *Login) submit(ctx context.Context, creds Credentials) error {
	if err := l.driver.FillField(ctx, l.cfg.UsernameField, creds.Username); err != nil {
		return err
	}
	if err := l.driver.FillField(ctx, l.cfg.PasswordField, creds.Password); err != nil {
		return err
	}
	if config.GetEffectiveSubmitViaButton(l.cfg) {
		return l.driver.Click(ctx, l.cfg.SubmitSelector)
	}
	return l.driver.SubmitForm(ctx, l.cfg.FormSelector)
}

// evaluateSession follows the home page link and extracts the account name.
func (l *Login) evaluateSession(ctx context.Context, doc *goquery.Document, creds Credentials) (*LoginResult, error) {
	if l.cfg.HomepageLinkSelector != "" {
		link := doc.Find(l.cfg.HomepageLinkSelector).First()
		href, ok := link.Attr("href")
		if link.Length() == 0 || !ok || strings.TrimSpace(href) == "" {
			return nil, fmt.Errorf("could not find home page link %q", l.cfg.HomepageLinkSelector)
		}
		target, err := l.resolveFrom(ctx, href)
		if err != nil {
			return nil, err
		}
		if _, err := l.provider.Navigate(ctx, target); err != nil {
			return nil, fmt.Errorf("follow home page link: %w", err)
		}
	}

	current, err := l.provider.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	result := &LoginResult{Username: creds.Username, HomePage: current}

	if l.cfg.ActualUsernameRegex != "" {
		markup, err := l.provider.CurrentMarkup(ctx)
		if err != nil {
			return nil, err
		}
		name, err := captureFirst(l.cfg.ActualUsernameRegex, markup)
		if err != nil {
			return nil, fmt.Errorf("could not extract username from page: %w", err)
		}
		result.Username = name
	}
	if l.cfg.UsernameInHomepageURLRegex != "" {
		name, err := captureFirst(l.cfg.UsernameInHomepageURLRegex, current)
		if err != nil {
			return nil, fmt.Errorf("could not extract username from %s: %w", current, err)
		}
		result.Username = name
	}
	return result, nil
}

// Logout follows logout_link_selector when configured.
func (l *Login) Logout(ctx context.Context) error {
	if l.cfg.LogoutLinkSelector == "" {
		return nil
	}
	doc, err := l.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	link := doc.Find(l.cfg.LogoutLinkSelector).First()
	if link.Length() == 0 {
		return utils.WrapErrorf(utils.ErrLogin, "could not find logout element %q", l.cfg.LogoutLinkSelector)
	}
	if href, ok := link.Attr("href"); ok && strings.TrimSpace(href) != "" && !strings.HasPrefix(strings.TrimSpace(href), "javascript:") {
		target, err := l.resolveFrom(ctx, href)
		if err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		if _, err := l.provider.Navigate(ctx, target); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	} else if err := l.driver.Click(ctx, l.cfg.LogoutLinkSelector); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	l.log.Info("Logged out")
	return nil
}

// waitFor polls the provider's markup until cond holds or the login timeout passes.
func (l *Login) waitFor(ctx context.Context, what string, cond func(*goquery.Document) bool) (*goquery.Document, error) {
	deadline := time.Now().Add(l.cfg.Timeout)
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		doc, err := l.snapshot(ctx)
		if err == nil && cond(doc) {
			return doc, nil
		}
		if err != nil {
			l.log.Debugf("Reading markup while waiting for %s: %v", what, err)
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("timed out after %s waiting for %s", l.cfg.Timeout, what)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Login) snapshot(ctx context.Context) (*goquery.Document, error) {
	markup, err := l.provider.CurrentMarkup(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}
	return doc, nil
}

func (l *Login) resolve(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: login page %q: %w", utils.ErrParsing, ref, err)
	}
	if l.base != nil {
		u = l.base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", utils.WrapErrorf(utils.ErrLogin, "cannot resolve %q without a site URL", ref)
	}
	return u.String(), nil
}

// resolveFrom resolves href against the page currently loaded.
func (l *Login) resolveFrom(ctx context.Context, href string) (string, error) {
	current, err := l.provider.CurrentURL(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("%w: link %q: %w", utils.ErrParsing, href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func fieldSelector(name string) string {
	return fmt.Sprintf("[name=%q]", name)
}

func captureFirst(pattern, s string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", err
	}
	m := re.FindStringSubmatch(s)
	if len(m) < 2 || m[1] == "" {
		return "", fmt.Errorf("no match for %q", pattern)
	}
	return m[1], nil
}
