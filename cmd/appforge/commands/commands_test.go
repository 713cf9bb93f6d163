package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/history"
	"github.com/appforge/appforge/internal/stack"
)

const sampleSpec = `
name: crm
version: "2"
modules:
  - name: sales
    entities:
      - name: Contact
        fields:
          - name: email
            type: string
            required: true
            unique: true
    surfaces:
      - name: ContactList
        entity: Contact
        sections:
          - name: Main
            elements:
              - kind: text
                field: email
`

func writeSpec(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSpec), 0o644))
	return path
}

func TestDocsiteBackendRegistered(t *testing.T) {
	assert.True(t, stack.DefaultRegistry().Has("docsite"))
}

func TestBuildCommandWritesTreeAndHistory(t *testing.T) {
	out := t.TempDir()
	db := filepath.Join(t.TempDir(), "history.db")

	cmd := &BuildCmd{
		Spec:      writeSpec(t),
		Stack:     "docsite",
		Output:    out,
		HistoryDB: db,
	}
	require.NoError(t, cmd.Run(&Global{}, &CLI{}))

	assert.FileExists(t, filepath.Join(out, "manifest.yaml"))
	assert.FileExists(t, filepath.Join(out, "content", "entities", "contact.md"))

	store, err := history.Open(db)
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.StatusSuccess, entries[0].Status)
	assert.Equal(t, "docsite", entries[0].StackID)
}

func TestBuildCommandRecordsFailure(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")

	cmd := &BuildCmd{
		Spec:      writeSpec(t),
		Stack:     "no-such-stack",
		Output:    t.TempDir(),
		HistoryDB: db,
	}
	err := cmd.Run(&Global{}, &CLI{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stack")

	store, serr := history.Open(db)
	require.NoError(t, serr)
	defer store.Close()
	entries, herr := store.Recent(context.Background(), 5)
	require.NoError(t, herr)
	require.Len(t, entries, 1)
	assert.Equal(t, history.StatusFailed, entries[0].Status)
	assert.NotEmpty(t, entries[0].Diagnostics)
}

func TestBuildCommandRejectsBrokenSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules: ["), 0o644))

	cmd := &BuildCmd{Spec: path, Stack: "docsite", Output: t.TempDir()}
	require.Error(t, cmd.Run(&Global{}, &CLI{}))
}

func TestBackendsCommandListsDocsite(t *testing.T) {
	cmd := &BackendsCmd{}
	require.NoError(t, cmd.Run(&Global{}, &CLI{}))
}

func TestHistoryCommandEmptyDatabase(t *testing.T) {
	cmd := &HistoryCmd{
		HistoryDB: filepath.Join(t.TempDir(), "history.db"),
		Limit:     10,
	}
	require.NoError(t, cmd.Run(&Global{}, &CLI{}))
}

func TestBuildCommandTimeoutOption(t *testing.T) {
	cmd := &BuildCmd{
		Spec:    writeSpec(t),
		Stack:   "docsite",
		Output:  t.TempDir(),
		Timeout: 30 * time.Second,
	}
	require.NoError(t, cmd.Run(&Global{}, &CLI{}))
}
