package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Demo(t *testing.T) {
	out, _, err := execute(t, "validate", schemasDir, "--bind")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 4 schema(s) valid")
	assert.Contains(t, out, "looper")
}

func TestValidate_JSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "validate", schemasDir)
	require.NoError(t, err)

	var result ValidationResult
	resp := decode(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"counter", "lobby", "looper", "vault"}, result.Schemas)
}

func TestValidate_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "decimal.cue", `document: x: fields: n: {type: "decimal"}`+"\n")

	out, _, err := execute(t, "--format", "json", "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ValidationResult
	resp := decode(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, ErrCodeInvalidType, result.Errors[0].Code)
	assert.Equal(t, "decimal.cue", filepath.Base(result.Errors[0].File))
}

func TestValidate_BindWithoutProgram(t *testing.T) {
	path := writeCUE(t, t.TempDir(), "tally.cue", tallySchema)

	_, _, err := execute(t, "validate", path)
	require.NoError(t, err)

	out, _, err := execute(t, "validate", path, "--bind")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoProgram)
	assert.Contains(t, out, `no program for schema "tally"`)
}

func TestValidate_NotFound(t *testing.T) {
	_, _, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
