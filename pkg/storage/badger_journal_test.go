package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/wwwsave/pkg/models"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func openTestJournal(t *testing.T, stateDir string, resume bool) *BadgerJournal {
	t.Helper()
	j, err := OpenJournal(stateDir, "example site", resume, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalPath(t *testing.T) {
	assert.Equal(t, filepath.Join("state", "a_b_journal"), JournalPath("state", "a/b"))
}

func TestBadgerJournal_Pages(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), false)

	status, entry, err := j.CheckPageStatus("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusNotFound, status)
	assert.Nil(t, entry)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, j.RecordPage("https://example.com/", &models.PageDBEntry{
		Status:      models.PageStatusFailure,
		ErrorType:   "HTTP_500",
		Attempts:    1,
		LastAttempt: now,
	}))

	status, entry, err = j.CheckPageStatus("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusFailure, status)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, "HTTP_500", entry.ErrorType)

	require.NoError(t, j.RecordPage("https://example.com/", &models.PageDBEntry{
		Status:    models.PageStatusSuccess,
		LocalPath: "index.html",
		Attempts:  2,
	}))
	status, entry, err = j.CheckPageStatus("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusSuccess, status)
	assert.Equal(t, "index.html", entry.LocalPath)
}

func TestBadgerJournal_Resources(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), false)

	require.NoError(t, j.RecordResource("https://example.com/a.css", &models.ResourceDBEntry{
		Status:    models.ResourceStatusSuccess,
		LocalPath: "a.css",
		Bytes:     12,
	}))

	status, entry, err := j.CheckResourceStatus("https://example.com/a.css")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceStatusSuccess, status)
	assert.Equal(t, int64(12), entry.Bytes)

	// Same URL under the page prefix is a different key
	pageStatus, _, err := j.CheckPageStatus("https://example.com/a.css")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusNotFound, pageStatus)
}

func TestBadgerJournal_ResumeKeepsEntries(t *testing.T) {
	stateDir := t.TempDir()

	j, err := OpenJournal(stateDir, "example site", false, testLogger())
	require.NoError(t, err)
	require.NoError(t, j.RecordPage("https://example.com/", &models.PageDBEntry{Status: models.PageStatusSuccess}))
	require.NoError(t, j.Close())

	resumed := openTestJournal(t, stateDir, true)
	status, _, err := resumed.CheckPageStatus("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusSuccess, status)
	require.NoError(t, resumed.Close())

	fresh := openTestJournal(t, stateDir, false)
	status, _, err = fresh.CheckPageStatus("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusNotFound, status, "a fresh run starts from an empty journal")
}

func TestBadgerJournal_RunMeta(t *testing.T) {
	stateDir := t.TempDir()

	j, err := OpenJournal(stateDir, "example site", false, testLogger())
	require.NoError(t, err)
	meta, err := j.LoadRunMeta()
	require.NoError(t, err)
	assert.Nil(t, meta, "nothing saved yet")

	started := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, j.SaveRunMeta(&models.RunMeta{RunID: "r1", EntryURL: "https://example.com/u/bob/", Username: "bob", StartedAt: started}))
	require.NoError(t, j.RecordPage("https://example.com/u/bob/", &models.PageDBEntry{Status: models.PageStatusSuccess}))
	require.NoError(t, j.Close())

	resumed := openTestJournal(t, stateDir, true)
	meta, err = resumed.LoadRunMeta()
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "https://example.com/u/bob/", meta.EntryURL)
	assert.Equal(t, "bob", meta.Username)
	assert.True(t, started.Equal(meta.StartedAt))

	logPath := filepath.Join(t.TempDir(), "visited.txt")
	require.NoError(t, resumed.WriteVisitedLog(context.Background(), logPath))
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "page\tsuccess\thttps://example.com/u/bob/\n", string(data), "run metadata is not a visited URL")
}

func TestBadgerJournal_CountsAndVisitedLog(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), false)

	require.NoError(t, j.RecordPage("https://example.com/", &models.PageDBEntry{Status: models.PageStatusSuccess}))
	require.NoError(t, j.RecordPage("https://example.com/a", &models.PageDBEntry{Status: models.PageStatusSuccess}))
	require.NoError(t, j.RecordPage("https://example.com/b", &models.PageDBEntry{Status: models.PageStatusFailure}))
	require.NoError(t, j.RecordResource("https://example.com/x.png", &models.ResourceDBEntry{Status: models.ResourceStatusFailure}))

	counts, err := j.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pages[models.PageStatusSuccess])
	assert.Equal(t, 1, counts.Pages[models.PageStatusFailure])
	assert.Equal(t, 1, counts.Resources[models.ResourceStatusFailure])

	logPath := filepath.Join(t.TempDir(), "visited.txt")
	require.NoError(t, j.WriteVisitedLog(context.Background(), logPath))
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines, "page\tfailure\thttps://example.com/b")
	assert.Contains(t, lines, "resource\tfailure\thttps://example.com/x.png")
}

func TestBadgerJournal_ClosedJournal(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), false)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "closing twice is a no-op")

	err := j.RecordPage("https://example.com/", &models.PageDBEntry{Status: models.PageStatusSuccess})
	assert.Error(t, err)

	status, _, err := j.CheckPageStatus("https://example.com/")
	assert.Error(t, err)
	assert.Equal(t, models.PageStatusDBError, status)
}

func TestBadgerJournal_RunGCStopsOnCancel(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.RunGC(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not stop after cancellation")
	}
}
