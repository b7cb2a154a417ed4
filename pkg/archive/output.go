package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/wwwsave/pkg/models"
	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

const (
	readmeFileName       = "README.txt"
	visitedLogSuffix     = "_visited.txt"
	lastRunSummarySuffix = "_last_run.yaml"
)

// prepareOutputDir makes sure dir exists. Unless reuse is set, an existing tree is first
// moved aside to dir.<unix-ts>, whose path is returned.
func prepareOutputDir(dir string, reuse bool, now time.Time) (backup string, err error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return "", fmt.Errorf("%w: output path '%s' is not a directory", utils.ErrFilesystem, dir)
	case err == nil && !reuse:
		abs, errAbs := filepath.Abs(dir)
		if errAbs != nil {
			return "", fmt.Errorf("%w: resolve '%s': %w", utils.ErrFilesystem, dir, errAbs)
		}
		cwd, _ := os.Getwd()
		if abs == filepath.Dir(abs) || abs == cwd {
			return "", fmt.Errorf("%w: refusing to move '%s' aside; pick a dedicated output_dir", utils.ErrFilesystem, abs)
		}
		backup = fmt.Sprintf("%s.%d", filepath.Clean(dir), now.Unix())
		if err := os.Rename(dir, backup); err != nil {
			return "", fmt.Errorf("%w: move existing output aside: %w", utils.ErrFilesystem, err)
		}
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("%w: stat output dir '%s': %w", utils.ErrFilesystem, dir, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create output dir '%s': %w", utils.ErrFilesystem, dir, err)
	}
	return backup, nil
}

// writeReadme describes the archive in README.txt, or notes the update when the file exists.
func writeReadme(dir, entry, user string, singlePage bool, now time.Time) error {
	path := filepath.Join(dir, readmeFileName)
	if _, err := os.Stat(path); err == nil {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("%w: open '%s': %w", utils.ErrFilesystem, path, err)
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "Updated: %s\n", formatStart(now)); err != nil {
			return fmt.Errorf("%w: append '%s': %w", utils.ErrFilesystem, path, err)
		}
		return nil
	}

	var b strings.Builder
	b.WriteString("Thank you for using wwwsave\n\n")
	if singlePage {
		fmt.Fprintf(&b, "Page: %s\n", entry)
	} else {
		fmt.Fprintf(&b, "Site: %s\n", entry)
	}
	if user != "" {
		fmt.Fprintf(&b, "User: %s\n", user)
	}
	fmt.Fprintf(&b, "Date: %s\n", formatStart(now))
	return utils.WriteFileAtomic(path, []byte(b.String()))
}

// finish writes the end-of-run artifacts, logs the summary and releases the run's resources.
func (s *session) finish(runErr error) *models.RunSummary {
	end := time.Now()
	summary := &models.RunSummary{
		RunID:             s.runID,
		SiteKey:           s.a.siteKey,
		OutputDir:         s.outputDir,
		StartTime:         s.start,
		EndTime:           end,
		Elapsed:           end.Sub(s.start),
		PagesSaved:        s.pagesSaved,
		PagesFailed:       s.pagesFailed,
		ResourcesSaved:    s.resourcesSaved,
		ResourcesFailed:   s.resourcesFailed,
		ReferencesSkipped: s.referencesSkipped,
		Interrupted:       runErr != nil && isInterruption(runErr),
	}
	if s.mapper != nil {
		summary.Site = s.mapper.Identity().String()
	}
	if !s.singlePage {
		summary.PagesRemaining = len(s.frontier.Snapshot())
	}

	stateDir := s.a.appCfg.StateDir
	prefix := utils.SanitizeFilename(s.a.siteKey)
	if s.journal != nil {
		s.stopGC()
		visitedPath := filepath.Join(stateDir, prefix+visitedLogSuffix)
		if err := s.journal.WriteVisitedLog(context.Background(), visitedPath); err != nil {
			s.log.Warnf("Could not write visited log: %v", err)
		}
		if err := s.journal.Close(); err != nil {
			s.log.Warnf("Could not close journal: %v", err)
		}
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.log.Warnf("Could not close renderer: %v", err)
		}
	}

	if s.a.appCfg.TreeFilename != "" && s.mapper != nil {
		treePath := filepath.Join(stateDir, prefix+"_"+s.a.appCfg.TreeFilename)
		if err := utils.WriteTreeFile(s.outputDir, treePath, s.log); err != nil {
			s.log.Warnf("Could not write tree file: %v", err)
		}
	}
	if err := writeSummaryYAML(filepath.Join(stateDir, prefix+lastRunSummarySuffix), summary); err != nil {
		s.log.Warnf("Could not write run summary: %v", err)
	}

	logSummary(s.log, summary, runErr)
	return summary
}

func writeSummaryYAML(path string, summary *models.RunSummary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	return utils.WriteFileAtomic(path, data)
}

func logSummary(log *logrus.Entry, summary *models.RunSummary, runErr error) {
	title := "ARCHIVE FINISHED"
	switch {
	case summary.Interrupted:
		title = "ARCHIVE INTERRUPTED"
	case runErr != nil:
		title = "ARCHIVE FAILED"
	}

	summaryLog := log.WithField("output_dir", summary.OutputDir)
	summaryLog.Info("========================================================================")
	summaryLog.Info(title)
	summaryLog.Infof("Elapsed:          %s", utils.FormatElapsed(summary.Elapsed))
	summaryLog.Infof("Pages saved:      %d", summary.PagesSaved)
	summaryLog.Infof("Pages failed:     %d", summary.PagesFailed)
	summaryLog.Infof("Pages remaining:  %d", summary.PagesRemaining)
	summaryLog.Infof("Resources saved: %d, failed: %d; references left as-is: %d",
		summary.ResourcesSaved, summary.ResourcesFailed, summary.ReferencesSkipped)
	if runErr != nil {
		summaryLog.WithField("error_type", utils.CategorizeError(runErr)).Errorf("Stopped: %v", runErr)
	}
	if summary.PagesRemaining > 0 {
		summaryLog.Info("Run again with 'resume' to continue")
	}
	summaryLog.Info("========================================================================")
}
