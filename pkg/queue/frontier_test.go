package queue

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func drain(f *Frontier) []string {
	var out []string
	for {
		u, ok := f.PopFront()
		if !ok {
			return out
		}
		f.Done(u)
		out = append(out, u)
	}
}

func TestFrontier_PushIsIdempotent(t *testing.T) {
	f := NewFrontier(nil, testLogger())

	assert.True(t, f.Push("http://x.test/a"))
	assert.False(t, f.Push("http://x.test/a"))
	assert.Equal(t, 1, f.Len())
	assert.True(t, f.Contains("http://x.test/a"))
	assert.False(t, f.Push(""))
}

func TestFrontier_FIFO(t *testing.T) {
	f := NewFrontier(nil, testLogger())
	added := f.PushAll([]string{"a", "b", "a", "c"})

	assert.Equal(t, 3, added)
	assert.Equal(t, []string{"a", "b", "c"}, drain(f))

	_, ok := f.PopFront()
	assert.False(t, ok)
}

func TestFrontier_SkipsSavedAndCurrent(t *testing.T) {
	saved := map[string]bool{"done": true}
	f := NewFrontier(func(u string) bool { return saved[u] }, testLogger())

	assert.False(t, f.Push("done"), "already saved")
	f.Push("page")

	u, ok := f.PopFront()
	require.True(t, ok)
	assert.Equal(t, "page", u)
	assert.False(t, f.Push("page"), "in progress")
	assert.True(t, f.Contains("page"))

	f.Done("page")
	assert.False(t, f.Contains("page"))
	assert.True(t, f.Push("page"), "pushable again once no longer current and not saved")
}

func TestFrontier_SeedIgnoresSavedPages(t *testing.T) {
	f := NewFrontier(func(string) bool { return true }, testLogger())

	assert.False(t, f.Push("home"))
	assert.True(t, f.Seed("home"))
	assert.False(t, f.Seed("home"), "still never queued twice")
	assert.Equal(t, []string{"home"}, drain(f))
}

func TestFrontier_RequeueGoesToTail(t *testing.T) {
	f := NewFrontier(nil, testLogger())
	f.PushAll([]string{"a", "b"})

	u, _ := f.PopFront()
	f.Requeue(u)

	assert.Equal(t, []string{"b", "a"}, drain(f))
}

func TestFrontier_SerializeRestoreRoundTrip(t *testing.T) {
	f := NewFrontier(nil, testLogger())
	f.PushAll([]string{"http://x.test/3", "http://x.test/1", "http://x.test/2"})

	data, err := f.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `["http://x.test/3","http://x.test/1","http://x.test/2"]`, string(data))

	restored := NewFrontier(nil, testLogger())
	require.NoError(t, restored.Restore(data))
	assert.Equal(t, f.Snapshot(), restored.Snapshot())
}

func TestFrontier_SnapshotIncludesInProgressFirst(t *testing.T) {
	f := NewFrontier(nil, testLogger())
	f.PushAll([]string{"a", "b", "c"})
	f.PopFront()

	assert.Equal(t, []string{"a", "b", "c"}, f.Snapshot())
	f.Done("a")
	assert.Equal(t, []string{"b", "c"}, f.Snapshot())
}

func TestFrontier_RestoreRejectsGarbage(t *testing.T) {
	f := NewFrontier(nil, testLogger())
	f.Push("keep")

	err := f.Restore([]byte(`{"not":"an array"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrResumeState))
	assert.Equal(t, []string{"keep"}, f.Snapshot(), "failed restore leaves the queue untouched")
}

func TestFrontier_RestoreDropsDuplicates(t *testing.T) {
	f := NewFrontier(nil, testLogger())
	require.NoError(t, f.Restore([]byte(`["a","","b","a"]`)))
	assert.Equal(t, []string{"a", "b"}, f.Snapshot())
}

func TestStateFile_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	sf := NewStateFile(dir)
	assert.Equal(t, filepath.Join(dir, StateFileName), sf.Path())
	assert.False(t, sf.Exists())

	err := sf.Load(NewFrontier(nil, testLogger()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrResumeState))
	assert.Contains(t, err.Error(), "nothing to resume")

	f := NewFrontier(nil, testLogger())
	f.PushAll([]string{"c", "d", "e"})
	require.NoError(t, sf.Save(f))
	assert.True(t, sf.Exists())

	loaded := NewFrontier(nil, testLogger())
	require.NoError(t, sf.Load(loaded))
	assert.Equal(t, []string{"c", "d", "e"}, loaded.Snapshot())

	require.NoError(t, sf.Remove())
	assert.False(t, sf.Exists())
	require.NoError(t, sf.Remove(), "removing twice is fine")
}

func TestStateFile_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("not json"), 0644))

	err := NewStateFile(dir).Load(NewFrontier(nil, testLogger()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrResumeState))
}
