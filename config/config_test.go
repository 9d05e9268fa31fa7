package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", s.Host())
	assert.Equal(t, 6543, s.Port())
	assert.Equal(t, 20, s.PortRange())
	assert.Equal(t, "filebro-local", s.AuthKey())
	assert.Equal(t, 2, s.CoreWorkers())
	assert.GreaterOrEqual(t, s.MaxWorkers(), 1)
	assert.Equal(t, 3, s.QueueThreshold())
	assert.Equal(t, 100*time.Millisecond, s.BroadcastInterval())
	assert.Empty(t, s.StartupDirectory())
	assert.Empty(t, s.LastDirectory())
	assert.True(t, s.SaveHistory())
	assert.Empty(t, s.History())
}

func TestLoadReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	content := `{"general": {"port": 7777, "auth_key": "sesame"}, "pool": {"core_workers": 5}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filebro.json"), []byte(content), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 7777, s.Port())
	assert.Equal(t, "sesame", s.AuthKey())
	assert.Equal(t, 5, s.CoreWorkers())

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "127.0.0.1", s.Host())
	assert.Equal(t, 20, s.PortRange())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filebro.json"), []byte("{not json"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestSetPortPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, s.SetPort(6549))

	reloaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 6549, reloaded.Port())
}

func TestRecordVisitUpdatesLastDirectoryAndHistory(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, s.RecordVisit("/home/user/docs"))
	require.NoError(t, s.RecordVisit("/home/user/music"))

	assert.Equal(t, "/home/user/music", s.LastDirectory())
	assert.Equal(t, []string{"/home/user/music", "/home/user/docs"}, s.History())

	// Revisiting moves the entry to the front instead of duplicating it.
	require.NoError(t, s.RecordVisit("/home/user/docs"))
	assert.Equal(t, []string{"/home/user/docs", "/home/user/music"}, s.History())

	reloaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/home/user/docs", reloaded.LastDirectory())
	assert.Equal(t, []string{"/home/user/docs", "/home/user/music"}, reloaded.History())
}

func TestRecordVisitHistoryDisabled(t *testing.T) {
	dir := t.TempDir()
	content := `{"navigation": {"save_history": false}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filebro.json"), []byte(content), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, s.RecordVisit("/tmp"))

	assert.Equal(t, "/tmp", s.LastDirectory())
	assert.Empty(t, s.History())
}

func TestRecordVisitHistoryIsCapped(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(dir)
	require.NoError(t, err)

	for i := 0; i < historyCap+10; i++ {
		require.NoError(t, s.RecordVisit(fmt.Sprintf("/dir/%d", i)))
	}

	history := s.History()
	assert.Len(t, history, historyCap)
	assert.Equal(t, fmt.Sprintf("/dir/%d", historyCap+9), history[0])
}

func TestBroadcastIntervalFloorsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	content := `{"broadcast": {"interval_ms": -5}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filebro.json"), []byte(content), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, s.BroadcastInterval())
}

func TestDefaultDirEndsWithAppDirectory(t *testing.T) {
	assert.Equal(t, dirName, filepath.Base(DefaultDir()))
}
