package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"

	"github.com/Sriram-PR/wwwsave/pkg/rules"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultViewport  = "1280x1024"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// DefaultUserAgent
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = defaultUserAgent
	}

	// NextPageDelay
	if c.NextPageDelay < 0 {
		warnings = append(warnings, "next_page_delay cannot be negative, setting to 0")
		c.NextPageDelay = 0
	} else if c.NextPageDelay == 0 {
		c.NextPageDelay = 2 * time.Second
	}

	// NumResourceWorkers
	if c.NumResourceWorkers <= 0 {
		warnings = append(warnings, "num_resource_workers should be > 0, defaulting to 8")
		c.NumResourceWorkers = 8
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 6")
		c.MaxRequestsPerHost = 6
	}

	// MaxPageAttempts
	if c.MaxPageAttempts == 0 {
		c.MaxPageAttempts = 3
	}

	// MaxResourceBytes
	if c.MaxResourceBytes < 0 {
		warnings = append(warnings, "max_resource_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxResourceBytes = 0
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './wwwsave_out'")
		c.OutputBaseDir = "./wwwsave_out"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './wwwsave_state'")
		c.StateDir = "./wwwsave_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 2
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	// Browser
	if w := c.validateBrowser(); w != "" {
		warnings = append(warnings, w)
	}

	// Log rotation
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 50
	}

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.MaxRequestsPerHost
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// validateBrowser applies browser defaults and returns a warning for an unusable value.
func (c *AppConfig) validateBrowser() string {
	b := &c.Browser
	if b.NavigationTimeout <= 0 {
		b.NavigationTimeout = 60 * time.Second
	}
	var warning string
	if b.Viewport == "" {
		b.Viewport = defaultViewport
	} else if _, _, err := ParseViewport(b.Viewport); err != nil {
		warning = fmt.Sprintf("browser viewport '%s' is invalid, defaulting to %s", b.Viewport, defaultViewport)
		b.Viewport = defaultViewport
	}
	switch b.Renderer {
	case "", RendererBrowser, RendererHTTP:
	default:
		warning = fmt.Sprintf("browser renderer '%s' is unknown, defaulting to '%s'", b.Renderer, RendererBrowser)
		b.Renderer = RendererBrowser
	}
	return warning
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Something to archive
	if c.URL == "" && c.HomePage == "" && !c.LoginRequired {
		return nil, fmt.Errorf("%w: site needs url, home_page or login_required", utils.ErrConfigValidation)
	}

	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: url '%s' must be an absolute http(s) URL", utils.ErrConfigValidation, c.URL)
		}
		if c.HomePage != "" {
			warnings = append(warnings, "Site sets both url and home_page; url wins and only one page is saved")
		}
	}

	if c.HomePage != "" && !strings.HasPrefix(c.HomePage, "/") {
		u, err := url.Parse(strings.ReplaceAll(c.HomePage, "{{username}}", "x"))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: home_page '%s' must be root-relative or an absolute http(s) URL",
				utils.ErrConfigValidation, c.HomePage)
		}
	}

	if strings.Contains(c.HomePage, "{{username}}") && !c.LoginRequired {
		return nil, fmt.Errorf("%w: home_page uses {{username}} but login_required is false", utils.ErrConfigValidation)
	}

	// Rules
	if _, err := rules.NewSet(c.ContentToSave, c.ContentToExclude, c.ContentLinkedOnly); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrConfigValidation, err)
	}
	if len(c.ContentToSave) == 0 && len(c.ContentLinkedOnly) > 0 {
		warnings = append(warnings,
			"Site has content_to_save_only_if_linked_from_other_content but no content_to_save; those rules never apply")
	}

	// Renderer
	switch c.Renderer {
	case "", RendererBrowser:
	case RendererHTTP:
		if c.LoginRequired {
			warnings = append(warnings, "Site renderer 'http' cannot log in, using 'browser'")
			c.Renderer = RendererBrowser
		}
	default:
		return nil, fmt.Errorf("%w: unknown renderer '%s'", utils.ErrConfigValidation, c.Renderer)
	}

	// Viewport
	if c.Viewport != "" {
		if _, _, err := ParseViewport(c.Viewport); err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrConfigValidation, err)
		}
	}

	// NextPageDelay
	if c.NextPageDelay < 0 {
		warnings = append(warnings, "Site next_page_delay cannot be negative, using global value")
		c.NextPageDelay = 0
	}

	if c.LoginRequired {
		w, err := c.Login.validate()
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, w...)
	}

	return warnings, nil
}

// validate checks the login block of a site that requires authentication.
func (l *LoginConfig) validate() (warnings []string, err error) {
	required := map[string]string{
		"page":                     l.Page,
		"username_field":           l.UsernameField,
		"password_field":           l.PasswordField,
		"success_element_selector": l.SuccessElementSelector,
	}
	for _, name := range []string{"page", "username_field", "password_field", "success_element_selector"} {
		if required[name] == "" {
			return nil, fmt.Errorf("%w: login needs %s", utils.ErrConfigValidation, name)
		}
	}
	if GetEffectiveSubmitViaButton(*l) && l.SubmitSelector == "" {
		return nil, fmt.Errorf("%w: login needs submit_selector when submit_via_button is true", utils.ErrConfigValidation)
	}
	if !GetEffectiveSubmitViaButton(*l) && l.FormSelector == "" {
		return nil, fmt.Errorf("%w: login needs form_selector when submit_via_button is false", utils.ErrConfigValidation)
	}

	selectors := map[string]string{
		"form_selector":            l.FormSelector,
		"submit_selector":          l.SubmitSelector,
		"error_text_selector":      l.ErrorTextSelector,
		"success_element_selector": l.SuccessElementSelector,
		"homepage_link_selector":   l.HomepageLinkSelector,
		"logout_link_selector":     l.LogoutLinkSelector,
	}
	for name, sel := range selectors {
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			return nil, fmt.Errorf("%w: login %s '%s': %v", utils.ErrConfigValidation, name, sel, err)
		}
	}

	for name, expr := range map[string]string{
		"actual_username_regex":          l.ActualUsernameRegex,
		"username_in_homepage_url_regex": l.UsernameInHomepageURLRegex,
	} {
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: login %s: %v", utils.ErrConfigValidation, name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("%w: login %s needs a capture group", utils.ErrConfigValidation, name)
		}
	}

	if l.Timeout <= 0 {
		l.Timeout = 30 * time.Second
	}
	if l.PollInterval <= 0 {
		l.PollInterval = 250 * time.Millisecond
	}
	if l.PollInterval > l.Timeout {
		warnings = append(warnings, fmt.Sprintf(
			"login poll_interval (%v) > timeout (%v), using timeout", l.PollInterval, l.Timeout))
		l.PollInterval = l.Timeout
	}
	return warnings, nil
}

// ParseViewport parses a WIDTHxHEIGHT string.
func ParseViewport(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("viewport '%s' must be WIDTHxHEIGHT", s)
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("viewport '%s' must be WIDTHxHEIGHT with positive integers", s)
	}
	return width, height, nil
}
