package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidShows(t *testing.T) {
	for _, path := range []string{"testdata/show.cue", "testdata/show.yaml", "testdata/show.json"} {
		t.Run(path, func(t *testing.T) {
			output, err := executeValidate(t, "text", path)
			require.NoError(t, err)
			assert.Contains(t, output, "✓ Show valid (2 objects, 1 mappings)")
		})
	}
}

func TestValidateValidShowJSON(t *testing.T) {
	output, err := executeValidate(t, "json", "testdata/show.cue")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Objects)
	assert.Equal(t, 1, resp.Data.Mappings)
}

func TestValidateNonExistentFile(t *testing.T) {
	output, err := executeValidate(t, "text", "testdata/missing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "show file not found")
}

func TestValidateUnsupportedExtension(t *testing.T) {
	_, err := executeValidate(t, "text", "testdata/show.txt")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unsupported show file extension")
}

func TestValidateInvalidShow(t *testing.T) {
	output, err := executeValidate(t, "text", "testdata/invalid_show.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")

	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, "E101: END_AND_DURATION")
	assert.Contains(t, output, "E101: INVALID_MAPPING")
}

func TestValidateInvalidShowJSON(t *testing.T) {
	output, err := executeValidate(t, "json", "testdata/invalid_show.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidShow, resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	assert.Len(t, resp.Data.Errors, 2)
}

func TestValidateSchemaError(t *testing.T) {
	output, err := executeValidate(t, "text", "testdata/unknown_field.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "E007")
	assert.Contains(t, output, "not allowed")
}

func TestValidateSyntaxError(t *testing.T) {
	output, err := executeValidate(t, "text", "testdata/syntax_error.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "E006")
}

func TestValidateVerboseOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Verbose: true}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{"testdata/show.yaml"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errBuf.String(), "Loaded 2 object(s) and 1 mapping(s)")
	assert.Contains(t, buf.String(), "✓ Show valid")
}

func TestValidateMissingArgs(t *testing.T) {
	_, err := executeValidate(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}
