package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const templateFixture = `version = 1

[[template]]
name = "Sled and row"
rounds = 3

[[template.exercise]]
name = "Sled push"
distance = 50.0

[[template.exercise]]
name = "Row"
distance = 500.0
`

func executeCLI(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--db", dbPath}, args...))

	err := root.Execute()
	return stdout.String(), err
}

func TestImportStoresTemplatesAndQueuesUpserts(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "host.db")
	seed := filepath.Join(dir, "templates.toml")
	require.NoError(t, os.WriteFile(seed, []byte(templateFixture), 0o600))

	out, err := executeCLI(t, dbPath, "templates", "import", seed)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported Sled and row")

	out, err = executeCLI(t, dbPath, "queue", "list", "--dest", "remote")
	require.NoError(t, err)
	assert.Contains(t, out, "upsertTemplate")
	assert.Contains(t, out, "1 of 1 pending for remote")

	out, err = executeCLI(t, dbPath, "templates", "export")
	require.NoError(t, err)
	assert.Contains(t, out, "Sled push")
	assert.Contains(t, out, "rounds = 3")
}

func TestPurgeDropsEntriesForOneEntity(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "host.db")
	seed := filepath.Join(dir, "templates.toml")
	require.NoError(t, os.WriteFile(seed, []byte(templateFixture), 0o600))

	_, err := executeCLI(t, dbPath, "templates", "import", seed)
	require.NoError(t, err)

	exported, err := executeCLI(t, dbPath, "templates", "export")
	require.NoError(t, err)
	id := extractID(t, exported)

	out, err := executeCLI(t, dbPath, "queue", "purge", "--dest", "remote", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 1 entries")

	out, err = executeCLI(t, dbPath, "queue", "list", "--dest", "remote")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 0 pending")
}

func TestUnknownDestinationIsRejected(t *testing.T) {
	_, err := executeCLI(t, filepath.Join(t.TempDir(), "x.db"), "queue", "list", "--dest", "cloud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown destination")
}

func extractID(t *testing.T, exported string) string {
	t.Helper()
	for _, line := range bytes.Split([]byte(exported), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("id = ")) {
			return string(bytes.Trim(bytes.TrimPrefix(line, []byte("id = ")), `'"`))
		}
	}
	t.Fatalf("no id in export:\n%s", exported)
	return ""
}
