package registry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/logging"
)

const facultyYAML = `
name: faculty
query: SELECT id, name FROM faculties
schema:
  type: object
  fields:
    id:
      type: integer
      db_name: id
`

const groupsYAML = `
name: groups
sql: groups.sql
schema:
  type: object
  fields:
    faculty:
      type: select
      endpoint: faculty
`

func descriptions() fstest.MapFS {
	return fstest.MapFS{
		"faculty.yaml":   {Data: []byte(facultyYAML)},
		"notes.txt":      {Data: []byte("ignored")},
		"sql/groups.sql": {Data: []byte("SELECT id FROM groups")},
	}
}

func TestNewManagerLoadsSnapshot(t *testing.T) {
	m, err := NewManager(context.Background(), Config{FS: descriptions()})
	require.NoError(t, err)

	reg := m.Current()
	require.NotNil(t, reg)
	assert.Equal(t, []string{"faculty"}, reg.Names())
	assert.NotEmpty(t, m.CurrentSnapshot().Fingerprint)
}

func TestNewManagerRejectsInvalidDescriptions(t *testing.T) {
	fsys := descriptions()
	fsys["groups.yaml"] = &fstest.MapFile{Data: []byte(groupsYAML + "\n    dean:\n      type: select\n      endpoint: nowhere\n")}

	_, err := NewManager(context.Background(), Config{FS: fsys})
	var errs apperr.ConfigurationErrors
	require.ErrorAs(t, err, &errs)
	assert.Contains(t, err.Error(), `unknown endpoint "nowhere"`)

	_, err = NewManager(context.Background(), Config{})
	assert.Error(t, err)
}

func TestRefreshKeepsPreviousSnapshotOnError(t *testing.T) {
	fsys := descriptions()
	m, err := NewManager(context.Background(), Config{FS: fsys})
	require.NoError(t, err)
	before := m.Current()

	fsys["broken.yaml"] = &fstest.MapFile{Data: []byte("name: broken\nschema: [")}
	_, err = m.RefreshNowContext(context.Background())
	require.Error(t, err)
	assert.Same(t, before, m.Current())

	delete(fsys, "broken.yaml")
	fsys["groups.yaml"] = &fstest.MapFile{Data: []byte(groupsYAML)}
	snapshot, err := m.RefreshNowContext(context.Background())
	require.NoError(t, err)
	assert.Same(t, snapshot.Registry, m.Current())
	assert.Equal(t, []string{"faculty", "groups"}, m.Current().Names())

	// the old snapshot is untouched
	_, ok := before.Get("groups")
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	fsys := descriptions()
	first, err := Fingerprint(fsys)
	require.NoError(t, err)

	fsys["notes.txt"] = &fstest.MapFile{Data: []byte("changed")}
	unrelated, err := Fingerprint(fsys)
	require.NoError(t, err)
	assert.Equal(t, first, unrelated)

	fsys["sql/groups.sql"] = &fstest.MapFile{Data: []byte("SELECT id, name FROM groups")}
	changed, err := Fingerprint(fsys)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestRefreshOncePolling(t *testing.T) {
	fsys := descriptions()
	m, err := NewManager(context.Background(), Config{FS: fsys, MinInterval: time.Second, MaxInterval: 4 * time.Second})
	require.NoError(t, err)
	before := m.Current()

	interval := time.Second
	m.refreshOnce(context.Background(), &interval)
	assert.Equal(t, 1500*time.Millisecond, interval)
	assert.Same(t, before, m.Current())

	fsys["groups.yaml"] = &fstest.MapFile{Data: []byte(groupsYAML)}
	m.refreshOnce(context.Background(), &interval)
	assert.Equal(t, time.Second, interval)
	assert.NotSame(t, before, m.Current())
	assert.Equal(t, 2, m.Current().Len())
}

func TestRefreshOnceSkipsRejectedTree(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: "error", Format: "json", Output: &buf})
	fsys := descriptions()
	m, err := NewManager(context.Background(), Config{Logger: logger, FS: fsys, MinInterval: time.Second, MaxInterval: 4 * time.Second})
	require.NoError(t, err)
	before := m.Current()

	fsys["groups.yaml"] = &fstest.MapFile{Data: []byte(groupsYAML + "\n    dean:\n      type: select\n      endpoint: nowhere\n")}
	interval := time.Second
	for i := 0; i < 3; i++ {
		m.refreshOnce(context.Background(), &interval)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "failed to rebuild registry"), "a broken tree is rebuilt once")
	assert.Equal(t, 2250*time.Millisecond, interval, "polling backs off while the tree is unchanged")
	assert.Same(t, before, m.Current())

	fsys["groups.yaml"] = &fstest.MapFile{Data: []byte(groupsYAML)}
	m.refreshOnce(context.Background(), &interval)
	assert.Equal(t, time.Second, interval)
	assert.Equal(t, 2, m.Current().Len())
	assert.Empty(t, m.rejected)
}

func TestNextInterval(t *testing.T) {
	assert.Equal(t, time.Second, nextInterval(0, time.Second, 4*time.Second))
	assert.Equal(t, 3*time.Second, nextInterval(2*time.Second, time.Second, 4*time.Second))
	assert.Equal(t, 4*time.Second, nextInterval(3*time.Second, time.Second, 4*time.Second))
}

func TestStartAndWait(t *testing.T) {
	m, err := NewManager(context.Background(), Config{FS: descriptions(), MinInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	assert.NoError(t, m.Wait(waitCtx))
}
