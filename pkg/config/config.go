package config

import (
	"path/filepath"
	"time"

	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// Renderer names accepted by renderer settings.
const (
	RendererBrowser = "browser" // Headless Chromium; required for login
	RendererHTTP    = "http"    // Plain HTTP GET of the page markup
)

// SiteConfig holds configuration specific to one site to archive
type SiteConfig struct {
	URL               string        `yaml:"url,omitempty"`       // Single-page capture target
	HomePage          string        `yaml:"home_page,omitempty"` // Crawl entry; absolute or root-relative, may hold {{username}}
	OutputDir         string        `yaml:"output_dir,omitempty"`
	LoginRequired     bool          `yaml:"login_required,omitempty"`
	Login             LoginConfig   `yaml:"login,omitempty"`
	ContentToSave     []string      `yaml:"content_to_save,omitempty"`
	ContentToExclude  []string      `yaml:"content_to_exclude,omitempty"`
	ContentLinkedOnly []string      `yaml:"content_to_save_only_if_linked_from_other_content,omitempty"`
	UserAgent         string        `yaml:"user_agent,omitempty"`
	Viewport          string        `yaml:"viewport,omitempty"` // WIDTHxHEIGHT
	Renderer          string        `yaml:"renderer,omitempty"`
	NextPageDelay     time.Duration `yaml:"next_page_delay,omitempty"`
	RespectRobotsTxt  bool          `yaml:"respect_robots_txt,omitempty"`
}

// LoginConfig describes the login form automation for a site
type LoginConfig struct {
	Page                       string        `yaml:"page"`
	FormSelector               string        `yaml:"form_selector"`
	UsernameField              string        `yaml:"username_field"` // Form element name
	PasswordField              string        `yaml:"password_field"` // Form element name
	SubmitSelector             string        `yaml:"submit_selector"`
	SubmitViaButton            *bool         `yaml:"submit_via_button,omitempty"` // false submits the form element directly
	ErrorTextSelector          string        `yaml:"error_text_selector,omitempty"`
	SuccessElementSelector     string        `yaml:"success_element_selector"`
	HomepageLinkSelector       string        `yaml:"homepage_link_selector,omitempty"`
	ActualUsernameRegex        string        `yaml:"actual_username_regex,omitempty"`          // First group, matched against markup
	UsernameInHomepageURLRegex string        `yaml:"username_in_homepage_url_regex,omitempty"` // First group, matched against the URL
	LogoutLinkSelector         string        `yaml:"logout_link_selector,omitempty"`
	Timeout                    time.Duration `yaml:"timeout,omitempty"`
	PollInterval               time.Duration `yaml:"poll_interval,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent   string                `yaml:"default_user_agent"`
	NextPageDelay      time.Duration         `yaml:"next_page_delay"`
	NumResourceWorkers int                   `yaml:"num_resource_workers"`
	MaxRequestsPerHost int                   `yaml:"max_requests_per_host"`
	MaxPageAttempts    int                   `yaml:"max_page_attempts,omitempty"` // Negative disables the cap
	MaxResourceBytes   int64                 `yaml:"max_resource_bytes,omitempty"`
	OutputBaseDir      string                `yaml:"output_base_dir"`
	StateDir           string                `yaml:"state_dir"`
	TreeFilename       string                `yaml:"tree_filename,omitempty"` // Written under state_dir when set
	MaxRetries         int                   `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration         `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration         `yaml:"max_retry_delay,omitempty"`
	HTTPClientSettings HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Browser            BrowserConfig         `yaml:"browser,omitempty"`
	Log                LogConfig             `yaml:"log,omitempty"`
	Sites              map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil = default
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// BrowserConfig holds settings for the headless browser page provider
type BrowserConfig struct {
	Renderer          string        `yaml:"renderer,omitempty"`
	Headless          *bool         `yaml:"headless,omitempty"`
	BinPath           string        `yaml:"bin_path,omitempty"` // Empty lets the launcher find or download Chromium
	Viewport          string        `yaml:"viewport,omitempty"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout,omitempty"`
}

// LogConfig configures the optional rotating log file
type LogConfig struct {
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// GetEffectiveUserAgent returns the site user agent, falling back to the global default
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveNextPageDelay returns the pause between two pages of a crawl
func GetEffectiveNextPageDelay(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.NextPageDelay > 0 {
		return siteCfg.NextPageDelay
	}
	return appCfg.NextPageDelay
}

// GetEffectiveRenderer determines the page provider. Login always needs the browser.
func GetEffectiveRenderer(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.LoginRequired {
		return RendererBrowser
	}
	if siteCfg.Renderer != "" {
		return siteCfg.Renderer
	}
	if appCfg.Browser.Renderer != "" {
		return appCfg.Browser.Renderer
	}
	return RendererBrowser
}

// GetEffectiveViewport returns the browser viewport as WIDTHxHEIGHT
func GetEffectiveViewport(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.Viewport != "" {
		return siteCfg.Viewport
	}
	return appCfg.Browser.Viewport
}

// GetEffectiveHeadless defaults to headless unless explicitly disabled
func GetEffectiveHeadless(appCfg AppConfig) bool {
	if appCfg.Browser.Headless != nil {
		return *appCfg.Browser.Headless
	}
	return true
}

// GetEffectiveSubmitViaButton defaults to clicking the submit button
func GetEffectiveSubmitViaButton(login LoginConfig) bool {
	if login.SubmitViaButton != nil {
		return *login.SubmitViaButton
	}
	return true
}

// GetEffectiveOutputDir returns the archive directory of a site: output_dir under the base, or the sanitized site key
func GetEffectiveOutputDir(siteKey string, siteCfg SiteConfig, appCfg AppConfig) string {
	name := siteCfg.OutputDir
	if name == "" {
		name = utils.SanitizeFilename(siteKey)
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(appCfg.OutputBaseDir, name)
}

// SinglePage reports whether the site is a single-page capture rather than a crawl
func (c SiteConfig) SinglePage() bool {
	return c.URL != ""
}
