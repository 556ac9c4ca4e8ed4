package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"unimem/internal/learning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores command flag variables between Execute calls.
func resetFlags() {
	verbose = false
	queryType, queryLimit, queryMinScore, querySources = "", 0, 0, nil
	contextMaxTokens, contextRaw = 0, false
	hopMaxHops = 0
	writeKey, writeTo, writeMeta = "", nil, nil
	learnEntities, learnTriggers = nil, nil
	learnConfidence, learnBenefit = 0.5, 0.5
	listType, listStatus = "", ""
}

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Setenv("UNIMEM_DATA_DIR", dir)
	t.Setenv("UNIMEM_LOG_LEVEL", "error")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml")}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestWriteThenQuery(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "write", "fact", "The staging database runs Postgres sixteen")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ graph-store")
	assert.Contains(t, out, "✓ markdown")

	out, err = runCLI(t, dir, "query", "staging database postgres")
	require.NoError(t, err, out)
	assert.Contains(t, out, "semantic query")
	assert.Contains(t, out, "Postgres sixteen")

	out, err = runCLI(t, dir, "query", "staging", "--source", "markdown", "--type", "keyword")
	require.NoError(t, err, out)
	assert.Contains(t, out, "[markdown")
	assert.NotContains(t, out, "[graph-store")
}

func TestWriteRejectsUnknownType(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "write", "gossip", "anything")
	assert.ErrorContains(t, err, "unknown write type")
}

func TestWriteFailsWithoutPrimary(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "write", "fact", "nowhere to go", "--to", "nonexistent")
	assert.Error(t, err)
	assert.Contains(t, out, "✗ nonexistent")
}

func TestLearnLifecycle(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "learn", "add", "tooling", "Prefer table-driven tests",
		"--entity", "skill:testing", "--trigger", "test")
	require.NoError(t, err, out)
	id := strings.Fields(out)[0]
	require.NotEmpty(t, id)

	out, err = runCLI(t, dir, "learn", "evidence", id, "negative", "flaky", "again")
	require.NoError(t, err, out)
	assert.Contains(t, out, id)

	out, err = runCLI(t, dir, "learn", "apply", id, "success")
	require.NoError(t, err, out)
	assert.Contains(t, out, "applications=1")
	assert.Contains(t, out, "status=active")

	out, err = runCLI(t, dir, "learn", "list", "--status", string(learning.StatusActive))
	require.NoError(t, err, out)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Prefer table-driven tests")

	out, err = runCLI(t, dir, "learn", "decay")
	require.NoError(t, err, out)
	assert.Contains(t, out, "decayed 0")

	out, err = runCLI(t, dir, "query", "how should I test the parser", "--source", "learning")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Prefer table-driven tests")
}

func TestLearnRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "learn", "add", "tooling", "x", "--entity", "no-colon")
	assert.Error(t, err)
	_, err = runCLI(t, dir, "learn", "evidence", "some-id", "maybe")
	assert.Error(t, err)
	_, err = runCLI(t, dir, "learn", "apply", "missing-id", "success")
	assert.ErrorIs(t, err, learning.ErrNotFound)
}

func TestContextRaw(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "write", "win", "Cut the CI pipeline from twelve minutes to four")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "context", "CI pipeline minutes", "--raw")
	require.NoError(t, err, out)
	assert.Contains(t, out, "# Context: CI pipeline minutes")
	assert.Contains(t, out, "twelve minutes")
}

func TestStatsCommand(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "stats")
	require.NoError(t, err, out)
	for _, src := range []string{"graph-store", "markdown", "learning", "hmlr"} {
		assert.Contains(t, out, src)
	}
	assert.Contains(t, out, "Learnings: 0 active")
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"owner=infra", " team = core "})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"owner": "infra", "team": "core"}, meta)

	_, err = parseMeta([]string{"novalue"})
	assert.Error(t, err)

	meta, err = parseMeta(nil)
	assert.NoError(t, err)
	assert.Nil(t, meta)
}

func TestParseEntities(t *testing.T) {
	got, err := parseEntities([]string{"skill:testing", "mode:review"})
	require.NoError(t, err)
	assert.Equal(t, []learning.Entity{{Type: "skill", ID: "testing"}, {Type: "mode", ID: "review"}}, got)

	_, err = parseEntities([]string{":x"})
	assert.Error(t, err)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 10))
	assert.Equal(t, "abcdefg...", oneLine(strings.Repeat("abcdefg", 3), 10))
}
