package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeResolve(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewResolveCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

type resolveResponse struct {
	Status string        `json:"status"`
	Data   ResolveOutput `json:"data"`
	Error  *CLIError     `json:"error"`
}

func TestResolveText(t *testing.T) {
	output, err := executeResolve(t, "text", "testdata/show.cue", "--at", "1500")
	require.NoError(t, err)

	assert.Contains(t, output, "State at 1500 (")
	assert.Contains(t, output, "fader_ch1")
	assert.Contains(t, output, "B [1500, 2000)")
	assert.Contains(t, output, "Next events: [2000]")
	assert.Contains(t, output, "Fixed now: none")
	assert.NotContains(t, output, "Warning")
}

func TestResolveJSON(t *testing.T) {
	output, err := executeResolve(t, "json", "testdata/show.yaml", "--at", "100")
	require.NoError(t, err)

	var resp resolveResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)

	out := resp.Data
	assert.Equal(t, int64(100), out.Time)
	assert.NotEmpty(t, out.StateHash)
	assert.True(t, out.Converged)
	assert.Empty(t, out.Fixed)
	assert.Equal(t, []int64{1500, 2000}, out.NextEvents)

	require.Contains(t, out.Layers, "fader_ch1")
	layer := out.Layers["fader_ch1"]
	assert.Equal(t, "A", layer.ObjectID)
	assert.Equal(t, int64(0), layer.Start)
	require.NotNil(t, layer.End)
	assert.Equal(t, int64(2000), *layer.End)
	assert.EqualValues(t, -6, layer.Content["value"])
}

func TestResolveEmptyLayer(t *testing.T) {
	output, err := executeResolve(t, "text", "testdata/show.json", "--at", "2500")
	require.NoError(t, err)

	assert.Contains(t, output, "fader_ch1")
	assert.Contains(t, output, " -\n")
	assert.Contains(t, output, "Next events: none")
}

func TestResolveSameHashAcrossFormats(t *testing.T) {
	var hashes []string
	for _, path := range []string{"testdata/show.cue", "testdata/show.yaml", "testdata/show.json"} {
		output, err := executeResolve(t, "json", path, "--at", "1500")
		require.NoError(t, err)

		var resp resolveResponse
		require.NoError(t, json.Unmarshal([]byte(output), &resp))
		hashes = append(hashes, resp.Data.StateHash)
	}
	assert.Equal(t, hashes[0], hashes[1])
	assert.Equal(t, hashes[0], hashes[2])
}

func TestResolveFixesNow(t *testing.T) {
	output, err := executeResolve(t, "text", "testdata/live.yaml", "--at", "500")
	require.NoError(t, err)

	assert.Contains(t, output, "live [500, open)")
	assert.Contains(t, output, "Fixed now:\n  live = 500")

	output, err = executeResolve(t, "json", "testdata/live.yaml", "--at", "500")
	require.NoError(t, err)

	var resp resolveResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data.Fixed, 1)
	assert.Equal(t, "live", resp.Data.Fixed[0].ID)
	assert.Equal(t, int64(500), resp.Data.Fixed[0].Time)
	assert.Nil(t, resp.Data.Layers["logic_l1"].End)
}

func TestResolveDefaultsToNow(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewResolveCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"testdata/show.yaml"})

	// The wall clock is far past the show, so nothing is active.
	require.NoError(t, cmd.Execute())

	var resp resolveResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Greater(t, resp.Data.Time, int64(2000))
	assert.Empty(t, resp.Data.Layers)
}

func TestResolveLoadError(t *testing.T) {
	output, err := executeResolve(t, "json", "testdata/missing.cue", "--at", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp resolveResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}
