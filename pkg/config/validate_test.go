package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Sriram-PR/wwwsave/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	// Check defaults applied
	assert.Equal(t, defaultUserAgent, cfg.DefaultUserAgent)
	assert.Equal(t, 2*time.Second, cfg.NextPageDelay)
	assert.Equal(t, 8, cfg.NumResourceWorkers)
	assert.Equal(t, 6, cfg.MaxRequestsPerHost)
	assert.Equal(t, 3, cfg.MaxPageAttempts)
	assert.Equal(t, "./wwwsave_out", cfg.OutputBaseDir)
	assert.Equal(t, "./wwwsave_state", cfg.StateDir)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)

	// Check HTTP client defaults
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 6, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)

	// Browser defaults
	assert.Equal(t, "1280x1024", cfg.Browser.Viewport)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)

	// Check warnings generated
	assert.True(t, containsWarning(warnings, "num_resource_workers should be > 0"))
	assert.True(t, containsWarning(warnings, "max_requests_per_host should be > 0"))
	assert.True(t, containsWarning(warnings, "output_base_dir is empty"))
	assert.True(t, containsWarning(warnings, "state_dir is empty"))
}

func TestAppConfig_Validate_ValidConfig(t *testing.T) {
	cfg := AppConfig{
		DefaultUserAgent:   "test-agent",
		NextPageDelay:      500 * time.Millisecond,
		NumResourceWorkers: 4,
		MaxRequestsPerHost: 2,
		MaxPageAttempts:    -1,
		OutputBaseDir:      "/output",
		StateDir:           "/state",
		MaxRetries:         5,
		InitialRetryDelay:  2 * time.Second,
		MaxRetryDelay:      60 * time.Second,
		Browser:            BrowserConfig{Viewport: "800x600", Renderer: RendererHTTP},
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 500*time.Millisecond, cfg.NextPageDelay)
	assert.Equal(t, 4, cfg.NumResourceWorkers)
	assert.Equal(t, -1, cfg.MaxPageAttempts, "negative disables the cap and is kept")
	assert.Equal(t, "800x600", cfg.Browser.Viewport)
	assert.Equal(t, RendererHTTP, cfg.Browser.Renderer)
}

func TestAppConfig_Validate_RetryDelayClamp(t *testing.T) {
	cfg := AppConfig{
		MaxRetries:        3,
		InitialRetryDelay: time.Minute,
		MaxRetryDelay:     10 * time.Second,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.InitialRetryDelay)
	assert.True(t, containsWarning(warnings, "initial_retry_delay"))
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	cfg := AppConfig{
		NextPageDelay:    -time.Second,
		MaxRetries:       -1,
		MaxResourceBytes: -5,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.NextPageDelay)
	assert.Equal(t, int64(0), cfg.MaxResourceBytes)
	assert.True(t, containsWarning(warnings, "next_page_delay cannot be negative"))
	assert.True(t, containsWarning(warnings, "max_retries cannot be negative"))
	assert.True(t, containsWarning(warnings, "max_resource_bytes cannot be negative"))
}

func TestAppConfig_Validate_BadBrowserSettings(t *testing.T) {
	cfg := AppConfig{Browser: BrowserConfig{Viewport: "wide", Renderer: "lynx"}}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, "1280x1024", cfg.Browser.Viewport)
	assert.Equal(t, RendererBrowser, cfg.Browser.Renderer)
	assert.True(t, containsWarning(warnings, "renderer 'lynx' is unknown"))
}

func validLogin() LoginConfig {
	return LoginConfig{
		Page:                   "https://example.com/login",
		UsernameField:          "user",
		PasswordField:          "pass",
		SubmitSelector:         "button[type=submit]",
		SuccessElementSelector: "a.logout",
	}
}

func TestSiteConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       SiteConfig
		wantErr   string
		wantWarns []string
	}{
		{
			name:    "nothing to archive",
			cfg:     SiteConfig{},
			wantErr: "needs url, home_page or login_required",
		},
		{
			name: "single page",
			cfg:  SiteConfig{URL: "https://example.com/page"},
		},
		{
			name:    "single page relative url",
			cfg:     SiteConfig{URL: "/page"},
			wantErr: "must be an absolute http(s) URL",
		},
		{
			name:    "single page ftp url",
			cfg:     SiteConfig{URL: "ftp://example.com/file"},
			wantErr: "must be an absolute http(s) URL",
		},
		{
			name:      "url and home page",
			cfg:       SiteConfig{URL: "https://example.com/", HomePage: "https://example.com/home"},
			wantWarns: []string{"url wins"},
		},
		{
			name: "root-relative home page",
			cfg:  SiteConfig{HomePage: "/index", LoginRequired: true, Login: validLogin()},
		},
		{
			name:    "home page without scheme",
			cfg:     SiteConfig{HomePage: "example.com/home"},
			wantErr: "home_page 'example.com/home'",
		},
		{
			name:    "username placeholder without login",
			cfg:     SiteConfig{HomePage: "https://example.com/u/{{username}}"},
			wantErr: "login_required is false",
		},
		{
			name: "username placeholder with login",
			cfg:  SiteConfig{HomePage: "https://example.com/u/{{username}}", LoginRequired: true, Login: validLogin()},
		},
		{
			name: "bad pattern rule",
			cfg: SiteConfig{
				HomePage:      "https://example.com/",
				ContentToSave: []string{"regex:^https://example.com/(unclosed"},
			},
			wantErr: "invalid include pattern",
		},
		{
			name: "linked-only without include",
			cfg: SiteConfig{
				HomePage:          "https://example.com/",
				ContentLinkedOnly: []string{"regex:/photos/"},
			},
			wantWarns: []string{"never apply"},
		},
		{
			name:    "unknown renderer",
			cfg:     SiteConfig{HomePage: "https://example.com/", Renderer: "curl"},
			wantErr: "unknown renderer 'curl'",
		},
		{
			name:      "http renderer with login",
			cfg:       SiteConfig{HomePage: "/", Renderer: RendererHTTP, LoginRequired: true, Login: validLogin()},
			wantWarns: []string{"cannot log in"},
		},
		{
			name:    "bad viewport",
			cfg:     SiteConfig{HomePage: "https://example.com/", Viewport: "1280"},
			wantErr: "WIDTHxHEIGHT",
		},
		{
			name:    "login missing success selector",
			cfg:     SiteConfig{LoginRequired: true, Login: LoginConfig{Page: "/login", UsernameField: "u", PasswordField: "p", SubmitSelector: "button"}},
			wantErr: "login needs success_element_selector",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			warnings, err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, utils.ErrConfigValidation)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, w := range tt.wantWarns {
				assert.True(t, containsWarning(warnings, w), "missing warning %q in %v", w, warnings)
			}
			if len(tt.wantWarns) == 0 {
				assert.Empty(t, warnings)
			}
		})
	}
}

func TestSiteConfig_Validate_RendererDowngrade(t *testing.T) {
	cfg := SiteConfig{HomePage: "/", Renderer: RendererHTTP, LoginRequired: true, Login: validLogin()}
	_, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, RendererBrowser, cfg.Renderer)
}

func TestLoginConfig_Validate(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		l := validLogin()
		warnings, err := l.validate()
		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Equal(t, 30*time.Second, l.Timeout)
		assert.Equal(t, 250*time.Millisecond, l.PollInterval)
	})

	t.Run("form submit needs form selector", func(t *testing.T) {
		l := validLogin()
		l.SubmitViaButton = boolPtr(false)
		_, err := l.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "form_selector")

		l.FormSelector = "form#login"
		_, err = l.validate()
		require.NoError(t, err)
	})

	t.Run("invalid css selector", func(t *testing.T) {
		l := validLogin()
		l.ErrorTextSelector = "div[["
		_, err := l.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error_text_selector")
	})

	t.Run("regex needs a capture group", func(t *testing.T) {
		l := validLogin()
		l.ActualUsernameRegex = "Hello, \\w+"
		_, err := l.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "capture group")

		l.ActualUsernameRegex = "Hello, (\\w+)"
		_, err = l.validate()
		require.NoError(t, err)
	})

	t.Run("poll interval clamped to timeout", func(t *testing.T) {
		l := validLogin()
		l.Timeout = time.Second
		l.PollInterval = 5 * time.Second
		warnings, err := l.validate()
		require.NoError(t, err)
		assert.Equal(t, time.Second, l.PollInterval)
		assert.True(t, containsWarning(warnings, "poll_interval"))
	})
}

func TestParseViewport(t *testing.T) {
	w, h, err := ParseViewport("1280x1024")
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 1024, h)

	w, h, err = ParseViewport(" 800X600 ")
	require.NoError(t, err)
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)

	for _, bad := range []string{"", "1280", "x", "0x10", "-1x5", "axb"} {
		_, _, err := ParseViewport(bad)
		assert.Error(t, err, bad)
	}
}

// containsWarning checks if any warning contains the given substring
func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
