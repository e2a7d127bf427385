package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/gitlabbot/internal/render"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "data", "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabase_StoreWritesSurviveReload(t *testing.T) {
	db := newTestDB(t)

	s := NewStore(nil, db)
	s.Verify(111)
	s.Subscribe("abc", 111, render.VerbosityFull)
	s.Subscribe("abc", 222, render.VerbosityFull)
	s.SetVerbosity("abc", 111, render.VerbosityLinks)
	s.Unsubscribe("abc", 222)
	s.Track("abc", TrackJobs, 42, "running")
	s.RecordHandle("abc", TrackJobs, 42, 111, 900)
	s.Track("abc", TrackJobs, 42, "success")

	snap, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{111}, snap.Verified)
	require.Contains(t, snap.Sources, "abc")
	assert.Equal(t, map[int64]render.Verbosity{111: render.VerbosityLinks}, snap.Sources["abc"].Subscribers)

	ev := snap.Sources["abc"].Tracked[TrackJobs][42]
	require.NotNil(t, ev)
	assert.Equal(t, "success", ev.Status)
	assert.Equal(t, map[int64]int{111: 900}, ev.Handles)

	reloaded := NewStore(snap, db)
	assert.Equal(t, OutcomeUnchanged, reloaded.Track("abc", TrackJobs, 42, "success").Outcome)
}

func TestDatabase_EmptyLoad(t *testing.T) {
	snap, err := newTestDB(t).Load()
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestImportLegacy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LegacyVerifiedFile), []byte(`[111, 222]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LegacyTableFile), []byte(`{
	  "abc": {
	    "111": {"verbosity": 1},
	    "jobs": {"42": {"status": "running", "message_id": 900}},
	    "pipelines": {},
	    "merge_requests": {}
	  },
	  "def": {
	    "111": {"verbosity": 0},
	    "222": {},
	    "pipelines": {"7": {"status": "success", "message_id": 5}}
	  }
	}`), 0o600))

	db := newTestDB(t)
	imported, err := ImportLegacy(db, dir)
	require.NoError(t, err)
	assert.True(t, imported)

	snap, err := db.Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{111, 222}, snap.Verified)

	abc := snap.Sources["abc"]
	assert.Equal(t, map[int64]render.Verbosity{111: render.VerbosityLinks}, abc.Subscribers)
	assert.Equal(t, map[int64]int{111: 900}, abc.Tracked[TrackJobs][42].Handles, "single subscriber owns the handle")

	def := snap.Sources["def"]
	assert.Equal(t, render.VerbosityFull, def.Subscribers[222], "missing verbosity defaults to full")
	assert.Equal(t, "success", def.Tracked[TrackPipelines][7].Status)
	assert.Empty(t, def.Tracked[TrackPipelines][7].Handles, "ambiguous handle is dropped")

	again, err := ImportLegacy(db, dir)
	require.NoError(t, err)
	assert.False(t, again, "populated databases are left alone")
}

func TestLoadLegacy_MissingFilesAreEmpty(t *testing.T) {
	snap, err := LoadLegacy(t.TempDir())
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestLoadLegacy_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LegacyTableFile), []byte(`{"abc": {"chat": {}}}`), 0o600))
	_, err := LoadLegacy(dir)
	assert.ErrorContains(t, err, "unexpected key")

	require.NoError(t, os.WriteFile(filepath.Join(dir, LegacyVerifiedFile), []byte(`not json`), 0o600))
	_, err = LoadLegacy(dir)
	assert.Error(t, err)
}
