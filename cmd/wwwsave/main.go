package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/wwwsave/pkg/archive"
	"github.com/Sriram-PR/wwwsave/pkg/browser"
	"github.com/Sriram-PR/wwwsave/pkg/config"
	wwwlog "github.com/Sriram-PR/wwwsave/pkg/log"
	"github.com/Sriram-PR/wwwsave/pkg/storage"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "save":
		runSave(os.Args[2:], false)
	case "resume":
		runSave(os.Args[2:], true)
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "version":
		fmt.Printf("wwwsave %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `wwwsave - Offline website archiver

Usage:
  wwwsave <command> [options]

Commands:
  save        Archive a site, or a single page with -url
  resume      Continue an interrupted archive run
  validate    Validate configuration file
  list-sites  List configured sites and their last run
  version     Show version info

Run 'wwwsave <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

type saveOptions struct {
	configFile  string
	siteKey     string
	url         string
	username    string
	passwordEnv string
	logLevel    string
	logFile     string
	force       bool
	resume      bool
}

// runSave handles both save and resume subcommands
func runSave(args []string, isResume bool) {
	cmdName := "save"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config")
	pageURL := fs.String("url", "", "Save only this page, overriding the site's url and home_page")
	force := fs.Bool("force", false, "Write into the existing output directory instead of moving it aside")
	username := fs.String("username", "", "Login name for sites with login_required (prompted for when empty)")
	passwordEnv := fs.String("password-env", "", "Environment variable holding the password (prompted for when empty)")
	logLevel := fs.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	logFile := fs.String("log-file", "", "Also write the log to this file, rotated (overrides log.file)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wwwsave %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		if isResume {
			fmt.Fprintf(os.Stderr, "  wwwsave resume -site my_blog\n")
		} else {
			fmt.Fprintf(os.Stderr, "  wwwsave save -site my_blog\n")
			fmt.Fprintf(os.Stderr, "  wwwsave save -site my_blog -url https://example.com/posts/42\n")
			fmt.Fprintf(os.Stderr, "  MYPASS=... wwwsave save -site members -username bob -password-env MYPASS\n")
		}
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *siteKey == "" {
		fmt.Fprintln(os.Stderr, "Error: -site is required")
		fs.Usage()
		os.Exit(1)
	}
	if isResume && *pageURL != "" {
		fmt.Fprintln(os.Stderr, "Error: -url cannot be used with resume; single-page captures are not resumable")
		os.Exit(1)
	}

	os.Exit(executeSave(saveOptions{
		configFile:  *configFile,
		siteKey:     *siteKey,
		url:         *pageURL,
		username:    *username,
		passwordEnv: *passwordEnv,
		logLevel:    *logLevel,
		logFile:     *logFile,
		force:       *force,
		resume:      isResume,
	}))
}

// executeSave runs one archive and returns the process exit code.
func executeSave(opts saveOptions) int {
	appCfg, err := loadConfig(opts.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logCfg := appCfg.Log
	if opts.logFile != "" {
		logCfg.File = opts.logFile
	}
	log, closer := wwwlog.New(opts.logLevel, wwwlog.FileOptions{
		Path:       logCfg.File,
		MaxSizeMB:  logCfg.MaxSizeMB,
		MaxBackups: logCfg.MaxBackups,
		MaxAgeDays: logCfg.MaxAgeDays,
		Compress:   logCfg.Compress,
	})
	defer closer.Close()

	siteCfg, err := validateForRun(appCfg, opts.siteKey, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)
	if opts.url != "" {
		if u, err := url.Parse(opts.url); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			log.Errorf("-url '%s' must be an absolute http(s) URL", opts.url)
			return 1
		}
	}

	var creds browser.Credentials
	if siteCfg.LoginRequired {
		creds, err = readCredentials(opts.username, opts.passwordEnv, os.Getenv, terminalPrompt)
		if err != nil {
			log.Errorf("Credentials: %v", err)
			return 1
		}
	}

	// ===========================================================
	// == Setup Run Context & Signal Handling ==
	// ===========================================================
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		sig := <-sigChan
		log.Warnf("Received signal: %v. Finishing the current page and saving resume state...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(60 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()
	defer signal.Stop(sigChan)

	history := storage.NewRunHistory(appCfg.StateDir)
	if err := history.Load(); err != nil {
		log.Warnf("Ignoring unreadable run history: %v", err)
	}

	archiver := archive.New(appCfg, opts.siteKey, siteCfg, log.WithField("component", "archive"), archive.WithRunHistory(history))
	_, err = archiver.Run(ctx, archive.RunOptions{
		Resume:      opts.resume,
		Force:       opts.force,
		URL:         opts.url,
		Credentials: creds,
	})

	switch {
	case err == nil:
		log.Info("Archive completed successfully.")
		return 0
	case errors.Is(err, context.Canceled):
		log.Warnf("Archive cancelled gracefully. Run 'wwwsave resume -site %s' to continue.", opts.siteKey)
		return 0
	case errors.Is(err, utils.ErrResumeState) && opts.resume:
		log.Errorf("Cannot resume: %v. Start a new run with 'wwwsave save -site %s'.", err, opts.siteKey)
		return 1
	default:
		log.Errorf("Archive finished with error: %v", err)
		return 1
	}
}

// validateForRun applies global defaults and validates the selected site, logging every warning.
func validateForRun(appCfg *config.AppConfig, siteKey string, log *logrus.Logger) (config.SiteConfig, error) {
	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return config.SiteConfig{}, err
	}

	siteCfg, ok := appCfg.Sites[siteKey]
	if !ok {
		return config.SiteConfig{}, utils.WrapErrorf(utils.ErrConfigValidation, "site key '%s' not found", siteKey)
	}
	siteWarnings, err := siteCfg.Validate()
	if err != nil {
		return config.SiteConfig{}, fmt.Errorf("site '%s': %w", siteKey, err)
	}
	for _, w := range siteWarnings {
		log.Warnf("[%s] %s", siteKey, w)
	}
	return siteCfg, nil
}

// promptFunc asks the user for one value. secret input is not echoed.
type promptFunc func(label string, secret bool) (string, error)

// readCredentials collects the login name and password from flags, the environment or a prompt.
func readCredentials(username, passwordEnv string, getenv func(string) string, prompt promptFunc) (browser.Credentials, error) {
	creds := browser.Credentials{Username: strings.TrimSpace(username)}
	if creds.Username == "" {
		name, err := prompt("Username: ", false)
		if err != nil {
			return browser.Credentials{}, err
		}
		creds.Username = strings.TrimSpace(name)
	}
	if creds.Username == "" {
		return browser.Credentials{}, errors.New("a username is required for this site")
	}

	if passwordEnv != "" {
		creds.Password = getenv(passwordEnv)
		if creds.Password == "" {
			return browser.Credentials{}, fmt.Errorf("environment variable %s is empty", passwordEnv)
		}
		return creds, nil
	}
	password, err := prompt("Password: ", true)
	if err != nil {
		return browser.Credentials{}, err
	}
	if password == "" {
		return browser.Credentials{}, errors.New("a password is required for this site")
	}
	creds.Password = password
	return creds, nil
}

// terminalPrompt reads from the controlling terminal; without one, credentials must come from flags.
func terminalPrompt(label string, secret bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; pass -username and -password-env")
	}
	fmt.Fprint(os.Stderr, label)
	if secret {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read username: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wwwsave validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, *siteKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := sortedSiteKeys(appCfg)
	if siteKey != "" {
		if _, ok := appCfg.Sites[siteKey]; !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		keys = []string{siteKey}
	}
	if len(keys) == 0 {
		fmt.Fprintln(stderr, "Error: no sites configured")
		return 1
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wwwsave list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doListSites(*configFile, time.Now(), os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doListSites lists sites with their last run and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, now time.Time, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	// Defaults only; warnings belong to validate
	_, _ = appCfg.Validate()

	history := storage.NewRunHistory(appCfg.StateDir)
	if err := history.Load(); err != nil {
		fmt.Fprintf(stderr, "WARN: %v\n", err)
	}

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range sortedSiteKeys(appCfg) {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		if site.SinglePage() {
			fmt.Fprintf(stdout, "    Page: %s\n", site.URL)
		} else {
			fmt.Fprintf(stdout, "    Home Page: %s\n", site.HomePage)
			fmt.Fprintf(stdout, "    Rules: %d include, %d exclude, %d linked-only\n",
				len(site.ContentToSave), len(site.ContentToExclude), len(site.ContentLinkedOnly))
		}
		if site.LoginRequired {
			fmt.Fprintf(stdout, "    Login: %s\n", site.Login.Page)
		}
		fmt.Fprintf(stdout, "    Output: %s\n", config.GetEffectiveOutputDir(key, site, *appCfg))

		if run, ok := history.Get(key); ok {
			status := "succeeded"
			switch {
			case run.Interrupted:
				status = "interrupted"
			case !run.LastRunSuccess:
				status = "failed"
			}
			fmt.Fprintf(stdout, "    Last Run: %s ago, %s, %d saved, %d failed\n",
				utils.FormatAge(run.LastRunTime, now), status, run.PagesSaved, run.PagesFailed)
			if run.Resumable() {
				fmt.Fprintf(stdout, "    Resumable: %d page(s) left\n", run.PagesRemaining)
			}
		} else {
			fmt.Fprintln(stdout, "    Last Run: never")
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

func sortedSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: ResourceWorkers:%d, MaxReqPerHost:%d, MaxPageAttempts:%d, NextPageDelay:%v",
		appCfg.NumResourceWorkers, appCfg.MaxRequestsPerHost, appCfg.MaxPageAttempts, appCfg.NextPageDelay)
	log.Infof("Global Config: StateDir:%s, OutputDir:%s",
		appCfg.StateDir, appCfg.OutputBaseDir)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config Browser: Renderer:%s, Viewport:%s, NavigationTimeout:%v",
		appCfg.Browser.Renderer, appCfg.Browser.Viewport, appCfg.Browser.NavigationTimeout)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
