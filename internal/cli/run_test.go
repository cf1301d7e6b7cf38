package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingScenario = `
name: counter_wrong
description: Expects a count the scenario never reaches.
schema: counter
steps:
  - command: construct
    who: alice
    arg: {start: 1}
assertions:
  - type: final_state
    expect: {count: 99}
`

func writeScenario(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func TestRun_Text(t *testing.T) {
	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "counter_basics.yaml"))
	require.NoError(t, err)

	golden, err := os.ReadFile(filepath.Join(goldenDir, "counter_basics.golden"))
	require.NoError(t, err)
	assert.Contains(t, out, string(golden))
	assert.Contains(t, out, "view alice@test:")
	assert.Contains(t, out, "✓ counter_basics passed at seq 7")
}

func TestRun_JSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "run", filepath.Join(scenariosDir, "lobby_rounds.yaml"))
	require.NoError(t, err)

	var result struct {
		Scenario string            `json:"scenario"`
		Pass     bool              `json:"pass"`
		Seq      int64             `json:"seq"`
		State    map[string]string `json:"state"`
	}
	resp := decode(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "lobby_rounds", result.Scenario)
	assert.True(t, result.Pass)
	assert.Equal(t, int64(12), result.Seq)
	assert.Equal(t, `"bob"`, result.State["winner"])
}

func TestRun_Failing(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "wrong.yaml", failingScenario)

	out, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ ")
	assert.Contains(t, out, "count")
}

func TestRun_MissingScenario(t *testing.T) {
	_, _, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestRun_Database(t *testing.T) {
	db := filepath.Join(t.TempDir(), "run.db")
	out, _, err := execute(t, "--format", "json", "run", filepath.Join(scenariosDir, "counter_basics.yaml"), "--db", db)
	require.NoError(t, err)

	var result struct {
		Database string `json:"database"`
	}
	decode(t, out, &result)
	assert.Equal(t, db, result.Database)

	out, _, err = execute(t, "--format", "json", "history", "--db", db)
	require.NoError(t, err)
	var docs []DocumentRow
	decode(t, out, &docs)
	require.Len(t, docs, 1)
	assert.Equal(t, "counter/scenario", docs[0].Key)
	assert.Equal(t, int64(7), docs[0].Seq)
}
