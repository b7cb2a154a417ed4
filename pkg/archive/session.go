package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/wwwsave/pkg/browser"
	"github.com/Sriram-PR/wwwsave/pkg/config"
	"github.com/Sriram-PR/wwwsave/pkg/fetch"
	"github.com/Sriram-PR/wwwsave/pkg/models"
	"github.com/Sriram-PR/wwwsave/pkg/pathmap"
	"github.com/Sriram-PR/wwwsave/pkg/queue"
	"github.com/Sriram-PR/wwwsave/pkg/rewrite"
	"github.com/Sriram-PR/wwwsave/pkg/rules"
	"github.com/Sriram-PR/wwwsave/pkg/storage"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

const (
	pageStreamKey      = "pages" // Rate limiter key for the inter-page delay
	defaultMaxAttempts = 3
	journalGCInterval  = 10 * time.Minute
	logoutTimeout      = 30 * time.Second
)

// session is the state of one run. Everything in it is owned by the goroutine calling run;
// only the resource fetcher works concurrently, and it never touches the frontier or the state file.
type session struct {
	a     *Archiver
	opts  RunOptions
	runID string
	start time.Time
	log   *logrus.Entry

	phase  Phase
	phases []Phase

	outputDir  string
	singlePage bool
	state      *queue.StateFile
	frontier   *queue.Frontier
	journal    storage.Journal
	stopGC     context.CancelFunc

	jar      http.CookieJar
	fetcher  *fetch.Fetcher
	provider browser.PageProvider
	login    *browser.Login
	loggedIn *browser.LoginResult
	username string

	entry     *url.URL // Post-redirect entry URL
	mapper    *pathmap.Mapper
	rules     *rules.Set
	rewriter  *rewrite.Rewriter
	resources *fetch.ResourceFetcher
	robots    *fetch.RobotsHandler
	limiter   *fetch.RateLimiter
	loaded    string // URL whose markup the provider holds and no page has consumed yet

	entryMarkup string // Raw entry page markup, once saved in this run
	entryPath   string

	pagesSaved        int
	pagesFailed       int
	resourcesSaved    int
	resourcesFailed   int
	referencesSkipped int
}

func newSession(a *Archiver, opts RunOptions) *session {
	runID := newRunID()
	s := &session{
		a:          a,
		opts:       opts,
		runID:      runID,
		start:      time.Now(),
		log:        a.log.WithField("run_id", runID),
		phase:      PhaseInit,
		phases:     []Phase{PhaseInit},
		outputDir:  config.GetEffectiveOutputDir(a.siteKey, a.siteCfg, *a.appCfg),
		singlePage: opts.URL != "" || a.siteCfg.SinglePage(),
	}
	s.state = queue.NewStateFile(s.outputDir)
	s.frontier = queue.NewFrontier(s.pageSaved, s.log)
	return s
}

func (s *session) enter(p Phase) {
	s.log.Debugf("Run phase %s -> %s", s.phase, p)
	s.phase = p
	s.phases = append(s.phases, p)
}

// pageSaved reports whether the page of u already exists on disk, or was saved under
// the URL it redirected to.
func (s *session) pageSaved(u string) bool {
	if s.mapper == nil {
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if pathmap.Exists(s.mapper.ToLocalPath(parsed, pathmap.ExtHTML)) {
		return true
	}
	status, _, err := s.journal.CheckPageStatus(u)
	return err == nil && status == models.PageStatusSuccess
}

func (s *session) run(ctx context.Context) error {
	appCfg, siteCfg := s.a.appCfg, s.a.siteCfg
	s.log.WithFields(logrus.Fields{
		"output_dir":  s.outputDir,
		"resume":      s.opts.Resume,
		"single_page": s.singlePage,
	}).Info("Archive run starting")

	if err := s.init(ctx); err != nil {
		return err
	}

	if siteCfg.LoginRequired {
		s.enter(PhaseLogin)
		if err := s.doLogin(ctx); err != nil {
			return err
		}
	}

	s.enter(PhaseEstablishSiteIdentity)
	if err := s.establishIdentity(ctx); err != nil {
		return err
	}
	if err := s.openArchive(); err != nil {
		return err
	}

	var runErr error
	if s.singlePage {
		s.enter(PhaseSinglePage)
		runErr = s.saveSinglePage(ctx)
	} else {
		s.enter(PhaseCrawlLoop)
		s.log.Infof("Crawling with a %v delay between pages", config.GetEffectiveNextPageDelay(siteCfg, *appCfg))
		runErr = s.crawl(ctx)
	}

	if s.login != nil {
		s.enter(PhaseLogout)
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		if err := s.login.Logout(logoutCtx); err != nil {
			s.log.Warnf("Logout failed: %v", err)
		}
		cancel()
	}
	if runErr == nil {
		s.enter(PhaseDone)
	}
	return runErr
}

// init checks the resume state and opens the journal, the HTTP stack and the page provider.
func (s *session) init(ctx context.Context) error {
	appCfg, siteCfg := s.a.appCfg, s.a.siteCfg

	if s.opts.Resume {
		if s.singlePage {
			return utils.WrapErrorf(utils.ErrResumeState, "single-page captures cannot be resumed")
		}
		if err := s.state.Load(s.frontier); err != nil {
			return err
		}
		s.log.Infof("Resuming with %d pending page(s) from %s", s.frontier.Len(), s.state.Path())
	}

	journal, err := storage.OpenJournal(appCfg.StateDir, s.a.siteKey, s.opts.Resume, s.log)
	if err != nil {
		return err
	}
	s.journal = journal
	gcCtx, stop := context.WithCancel(context.Background())
	s.stopGC = stop
	go journal.RunGC(gcCtx, journalGCInterval)

	userAgent := config.GetEffectiveUserAgent(siteCfg, *appCfg)
	s.jar = fetch.NewCookieJar()
	client := fetch.NewClient(appCfg.HTTPClientSettings, s.jar, s.log)
	s.fetcher = fetch.NewFetcher(client, appCfg, userAgent, s.log)
	s.limiter = fetch.NewRateLimiter(s.log)

	renderer := config.GetEffectiveRenderer(siteCfg, *appCfg)
	provider, err := s.a.newProvider(ctx, renderer, s.fetcher)
	if err != nil {
		return fmt.Errorf("start %s renderer: %w", renderer, err)
	}
	s.provider = provider
	return nil
}

func (s *session) doLogin(ctx context.Context) error {
	login, err := browser.NewLogin(s.provider, s.a.siteCfg.Login, s.a.siteBase(nil), s.log)
	if err != nil {
		return err
	}
	res, err := login.Run(ctx, s.opts.Credentials)
	if err != nil {
		return err
	}
	s.login = login
	s.loggedIn = res
	s.username = res.Username
	s.loaded = res.HomePage
	s.log = s.log.WithField("user", res.Username)
	return nil
}

// establishIdentity fixes the entry URL, and with it the site identity, the path mapper and the rule placeholders.
// A resumed crawl reuses the entry recorded by the run it continues.
func (s *session) establishIdentity(ctx context.Context) error {
	var final string
	navigated := false
	if s.opts.Resume {
		meta, err := s.journal.LoadRunMeta()
		if err != nil {
			return err
		}
		if meta != nil && meta.EntryURL != "" {
			final = meta.EntryURL
			if s.username == "" {
				s.username = meta.Username
			}
			s.log.Debugf("Reusing entry %s of run %s", meta.EntryURL, meta.RunID)
		} else {
			s.log.Warn("Journal holds no entry URL; loading the entry page again")
		}
	}

	if final == "" {
		entry, err := s.a.entryURL(s.opts, s.loggedIn)
		if err != nil {
			return err
		}
		if s.loaded != "" && s.loaded == entry {
			final = entry
		} else {
			final, err = s.provider.Navigate(ctx, entry)
			if err != nil {
				return fmt.Errorf("load entry page %s: %w", entry, err)
			}
		}
		navigated = true
	}

	u, err := url.Parse(final)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return utils.WrapErrorf(utils.ErrFetch, "entry page settled on unusable URL '%s'", final)
	}
	u.Fragment, u.RawFragment = "", ""
	s.entry = u
	if navigated {
		s.loaded = u.String()
	}

	identity := pathmap.IdentityOf(u)
	s.mapper = pathmap.NewMapper(identity, s.outputDir)
	s.log = s.log.WithField("site", identity.String())

	siteCfg := s.a.siteCfg
	ruleSet, err := rules.NewSet(siteCfg.ContentToSave, siteCfg.ContentToExclude, siteCfg.ContentLinkedOnly)
	if err != nil {
		return err
	}
	if err := ruleSet.Substitute(s.username, u.String()); err != nil {
		return err
	}
	s.rules = ruleSet
	s.log.WithField("entry", u.String()).Infof("Site identity established (%d rule(s))", len(ruleSet.Rules()))

	return s.journal.SaveRunMeta(&models.RunMeta{
		RunID:     s.runID,
		EntryURL:  u.String(),
		Username:  s.username,
		StartedAt: s.start,
	})
}

// openArchive prepares the output tree and the components writing into it.
func (s *session) openArchive() error {
	appCfg, siteCfg := s.a.appCfg, s.a.siteCfg

	backup, err := prepareOutputDir(s.outputDir, s.opts.Resume || s.opts.Force, s.start)
	if err != nil {
		return err
	}
	if backup != "" {
		s.log.Warnf("Moved existing output directory to %s", backup)
	}
	if err := writeReadme(s.outputDir, s.entry.String(), s.username, s.singlePage, s.start); err != nil {
		s.log.Warnf("Could not write README: %v", err)
	}

	userAgent := config.GetEffectiveUserAgent(siteCfg, *appCfg)
	if siteCfg.RespectRobotsTxt {
		s.robots = fetch.NewRobotsHandler(s.fetcher, userAgent, s.log)
	}
	if n, err := browser.ShareCookies(context.Background(), s.provider, s.jar, s.entry); err != nil {
		s.log.Warnf("Could not copy browser cookies; resources are fetched without the session: %v", err)
	} else if n > 0 {
		s.log.Debugf("Copied %d browser cookie(s) to the resource client", n)
	}

	s.rewriter = rewrite.New(s.mapper, s.rules, s.log)
	if s.singlePage {
		s.rewriter = s.rewriter.WithoutPages()
	}
	s.resources = fetch.NewResourceFetcher(fetch.ResourceFetcherConfig{
		Fetcher:  s.fetcher,
		Mapper:   s.mapper,
		Rewriter: s.rewriter,
		Hosts:    fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, s.log),
		Robots:   s.robots,
		Journal:  s.journal,
		Workers:  appCfg.NumResourceWorkers,
		RunID:    s.runID,
	}, s.log)
	return nil
}

func (s *session) maxAttempts() int {
	if s.a.appCfg.MaxPageAttempts == 0 {
		return defaultMaxAttempts
	}
	return s.a.appCfg.MaxPageAttempts
}

// crawl processes the frontier one page at a time until it drains or the run ends.
func (s *session) crawl(ctx context.Context) error {
	if !s.opts.Resume {
		s.frontier.Seed(s.entry.String())
		seeded := s.frontier.PushAll(s.rules.Literals())
		if s.rules.Empty() {
			s.log.Warn("No content_to_save rules; only the entry page will be saved")
		}
		s.log.Infof("Seeded frontier with the entry page and %d literal page(s)", seeded)
	}
	if err := s.state.Save(s.frontier); err != nil {
		return err
	}

	delay := config.GetEffectiveNextPageDelay(s.a.siteCfg, *s.a.appCfg)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		u, ok := s.frontier.PopFront()
		if !ok {
			break
		}

		pageLog := s.log.WithField("url", u)
		err := s.processPage(ctx, u, pageLog)
		switch {
		case err == nil:
			s.frontier.Done(u)
			s.pagesSaved++
		case isInterruption(err) && ctx.Err() != nil:
			// Left in progress so the state file lists it first
			if saveErr := s.state.Save(s.frontier); saveErr != nil {
				pageLog.Errorf("Could not save resume state: %v", saveErr)
			}
			return err
		case errors.Is(err, utils.ErrFilesystem):
			if saveErr := s.state.Save(s.frontier); saveErr != nil {
				pageLog.Errorf("Could not save resume state: %v", saveErr)
			}
			return fmt.Errorf("saving %s: %w", u, err)
		default:
			s.pageFailed(u, err, pageLog)
		}
		s.limiter.UpdateLastRequestTime(pageStreamKey)

		if err := s.state.Save(s.frontier); err != nil {
			return err
		}
		left := s.frontier.Len()
		if left == 0 {
			break
		}
		pageLog.Infof("%d page(s) left", left)
		if err := s.limiter.ApplyDelay(ctx, pageStreamKey, delay); err != nil {
			return err
		}
	}

	s.writeRootIndex()
	if err := s.state.Remove(); err != nil {
		s.log.Warnf("Could not remove resume state: %v", err)
	}
	return nil
}

// processPage renders u, saves it with its resources and queues the pages it links to.
func (s *session) processPage(ctx context.Context, u string, pageLog *logrus.Entry) error {
	markup, final, err := s.render(ctx, u)
	if err != nil {
		return err
	}
	if !s.mapper.InSite(final) && final.String() != u {
		return utils.WrapErrorf(utils.ErrFetch, "%s redirected off-site to %s", u, final)
	}

	localPath, pages, err := s.savePage(ctx, markup, final, pageLog)
	if err != nil {
		return err
	}
	if final.String() != u {
		s.writeRedirectCopy(u, markup, final, localPath, pageLog)
	}
	s.recordPage(u, models.PageStatusSuccess, s.mapper.RootRelative(localPath), "")
	if final.String() == s.entry.String() {
		s.entryMarkup, s.entryPath = markup, localPath
	}

	queued := s.queueDiscovered(ctx, pages, pageLog)
	if queued > 0 {
		pageLog.Debugf("Queued %d new page(s)", queued)
	}
	return nil
}

// writeRedirectCopy saves the page of a redirected request a second time at the path of the requested URL,
// where the pages linking to it point. The copy is rewritten for its own location.
func (s *session) writeRedirectCopy(requested, markup string, final *url.URL, savedPath string, pageLog *logrus.Entry) {
	reqURL, err := url.Parse(requested)
	if err != nil {
		return
	}
	copyPath := s.mapper.ToLocalPath(reqURL, pathmap.ExtHTML)
	if copyPath == savedPath {
		return
	}
	res := s.rewriter.RewriteHTML(markup, final, copyPath, nil)
	if err := utils.WriteFileAtomic(pathmap.FilePath(copyPath), []byte(res.Text)); err != nil {
		pageLog.Warnf("Could not write copy for redirected page: %v", err)
		return
	}
	pageLog.WithField("path", copyPath).Debugf("Saved redirected page copy (redirected to %s)", final)
}

// render returns the markup of u and the URL it settled on.
func (s *session) render(ctx context.Context, u string) (string, *url.URL, error) {
	finalStr := u
	if s.loaded != u {
		var err error
		finalStr, err = s.provider.Navigate(ctx, u)
		if err != nil {
			s.loaded = ""
			if !errors.Is(err, utils.ErrFetch) && !isInterruption(err) {
				err = fmt.Errorf("%w: %w", utils.ErrFetch, err)
			}
			return "", nil, err
		}
	}
	s.loaded = ""

	markup, err := s.provider.CurrentMarkup(ctx)
	if err != nil {
		return "", nil, err
	}
	final, err := url.Parse(finalStr)
	if err != nil {
		return "", nil, fmt.Errorf("%w: final URL '%s': %w", utils.ErrParsing, finalStr, err)
	}
	final.Fragment, final.RawFragment = "", ""
	return markup, final, nil
}

// savePage rewrites markup as the document at final, waits for its resources and writes it.
// It returns the local path and the discovered page URLs.
func (s *session) savePage(ctx context.Context, markup string, final *url.URL, pageLog *logrus.Entry) (string, []string, error) {
	localPath := s.mapper.ToLocalPath(final, pathmap.ExtHTML)
	batch := s.resources.NewBatch(ctx)
	res := s.rewriter.RewriteHTML(markup, final, localPath, batch)
	stats := batch.Wait()

	s.resourcesSaved += stats.Saved
	s.resourcesFailed += stats.Failed
	s.referencesSkipped += res.Skipped
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	if err := utils.WriteFileAtomic(pathmap.FilePath(localPath), []byte(res.Text)); err != nil {
		return "", nil, err
	}
	pageLog.WithFields(logrus.Fields{
		"title":     pageTitle(markup),
		"path":      localPath,
		"resources": res.Resources,
		"fetched":   stats.Saved,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
	}).Info("Saved page")

	pages := append(res.Pages, batch.Pages()...)
	return localPath, pages, nil
}

// pageTitle returns the trimmed document title, or "" when markup has none.
func pageTitle(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

func (s *session) queueDiscovered(ctx context.Context, pages []string, pageLog *logrus.Entry) int {
	queued := 0
	for _, p := range pages {
		if s.robots != nil {
			if pu, err := url.Parse(p); err == nil && !s.robots.Allowed(ctx, pu) {
				pageLog.WithField("page", p).Info("Not queueing page disallowed by robots.txt")
				continue
			}
		}
		if s.frontier.Push(p) {
			queued++
		}
	}
	return queued
}

// pageFailed re-queues u at the tail, or gives up once it used all its attempts.
func (s *session) pageFailed(u string, err error, pageLog *logrus.Entry) {
	category := utils.CategorizeError(err)
	status := models.PageStatusFailure
	if category == "HTTP_404" {
		status = models.PageStatusNotFound
	}
	attempts := s.recordPage(u, status, "", category)

	failLog := pageLog.WithFields(logrus.Fields{"error_type": category, "attempt": attempts})
	if limit := s.maxAttempts(); limit > 0 && attempts >= limit {
		s.frontier.Done(u)
		s.pagesFailed++
		failLog.Errorf("Giving up on page after %d attempt(s): %v", attempts, err)
		return
	}
	s.frontier.Requeue(u)
	failLog.Warnf("Page failed, re-queued at the tail: %v", err)
}

// recordPage journals an attempt at u and returns the number of attempts so far.
func (s *session) recordPage(u string, status models.PageStatus, localPath, errorType string) int {
	attempts := 1
	if _, prev, err := s.journal.CheckPageStatus(u); err == nil && prev != nil {
		attempts = prev.Attempts + 1
	}
	now := time.Now()
	entry := &models.PageDBEntry{
		Status:      status,
		LocalPath:   localPath,
		ErrorType:   errorType,
		Attempts:    attempts,
		RunID:       s.runID,
		LastAttempt: now,
	}
	if status == models.PageStatusSuccess {
		entry.ProcessedAt = now
	}
	if err := s.journal.RecordPage(u, entry); err != nil {
		s.log.WithField("url", u).Warnf("Journal write failed: %v", err)
	}
	return attempts
}

// saveSinglePage saves the already loaded entry page and nothing it links to.
func (s *session) saveSinglePage(ctx context.Context) error {
	u := s.entry.String()
	pageLog := s.log.WithField("url", u)

	markup, final, err := s.render(ctx, u)
	if err != nil {
		s.pagesFailed++
		return fmt.Errorf("render %s: %w", u, err)
	}
	localPath, _, err := s.savePage(ctx, markup, final, pageLog)
	if err != nil {
		s.recordPage(u, models.PageStatusFailure, "", utils.CategorizeError(err))
		s.pagesFailed++
		return fmt.Errorf("save %s: %w", u, err)
	}
	s.recordPage(u, models.PageStatusSuccess, s.mapper.RootRelative(localPath), "")
	s.pagesSaved++
	s.entryMarkup, s.entryPath = markup, localPath
	s.writeRootIndex()
	return nil
}

// writeRootIndex saves the entry page a second time as the archive's index.html when it lives deeper.
// The copy is rewritten for its own location; a crawl never overwrites a page saved there.
func (s *session) writeRootIndex() {
	if s.entryMarkup == "" {
		return
	}
	root := *s.entry
	root.Path, root.RawPath, root.RawQuery, root.ForceQuery = "/", "", "", false
	indexPath := s.mapper.ToLocalPath(&root, pathmap.ExtHTML)
	if indexPath == s.entryPath {
		return
	}
	if !s.singlePage && pathmap.Exists(indexPath) {
		return
	}

	res := s.rewriter.RewriteHTML(s.entryMarkup, s.entry, indexPath, nil)
	if err := utils.WriteFileAtomic(pathmap.FilePath(indexPath), []byte(res.Text)); err != nil {
		s.log.Warnf("Could not write root index copy: %v", err)
		return
	}
	s.log.Infof("Saved entry page copy as %s", indexPath)
}
