package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/conductor"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/testutil"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// TestScenarios runs every scenario under testdata/scenarios against its
// golden trace. Update goldens with:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "scenario name must match its file name")

			result := RunWithGolden(t, scenario)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_FaderEndToEnd(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "fader_end_to_end.yaml"))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 3)

	first := result.Trace[0]
	assert.Equal(t, int64(100), first.Time)
	assert.Equal(t, int64(100), first.Scheduled)
	assert.Equal(t, "desk0", first.DeviceID)
	assert.Equal(t, "res-1", first.ResolutionID)
	assert.Equal(t, `{"channel":"ch1","value":-6}`, first.Payload)

	for _, ev := range result.Trace {
		assert.GreaterOrEqual(t, ev.Time, ev.Scheduled)
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "fader_end_to_end.yaml"))
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.TraceText(), second.TraceText())
}

func TestRun_AssertionFailuresReported(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "fader_end_to_end.yaml"))
	require.NoError(t, err)
	scenario.Assertions = []Assertion{
		{Type: AssertCommandCount, Count: 2},
		{Type: AssertNoCommandsAfter, At: 1500},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected: 2 commands")
	assert.Contains(t, result.Errors[1], "no commands after 1500")
}

func TestRun_CommandErrorInTrace(t *testing.T) {
	rec := testutil.NewRecorder(clock.NewVirtual(0))
	rec.FailNextSend(errors.New("link down"))
	reg := device.NewRegistry()
	require.NoError(t, reg.Register(testutil.RecorderType, rec.Factory()))

	scenario := &Scenario{
		Name:  "recorder_failure",
		Start: 0,
		Until: 2000,
		Devices: []conductor.DeviceConfig{
			{ID: "rec", Type: string(testutil.RecorderType)},
		},
		Mappings: timeline.Mappings{
			"l1": {Device: string(testutil.RecorderType), DeviceID: "rec"},
		},
		Timeline: []timeline.Object{
			{ID: "X", Layer: "l1", Enable: timeline.Enables{{Start: timeline.Abs(0)}}},
			{ID: "Y", Layer: "l1", Priority: 1, Enable: timeline.Enables{{Start: timeline.Abs(1000)}}},
		},
		Assertions: []Assertion{{Type: AssertCommandCount, Count: 2}},
	}

	result, err := Run(context.Background(), scenario, WithRegistry(reg))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Contains(t, result.Trace[0].Error, "link down")
	assert.Empty(t, result.Trace[1].Error)
	assert.Equal(t, "1000 rec Y \"changed: Y\" \"Y\"", result.Trace[1].Line())
	assert.Equal(t, []any{"Y"}, rec.Payloads())
}

func TestRun_UnknownDeviceType(t *testing.T) {
	scenario := &Scenario{
		Name:       "bad_device",
		Devices:    []conductor.DeviceConfig{{ID: "x", Type: "nope"}},
		Assertions: []Assertion{{Type: AssertCommandCount}},
	}
	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrUnknownType)
}

func TestRunWithGolden_TempFixture(t *testing.T) {
	dir := t.TempDir()
	golden := filepath.Join(dir, "testdata", "golden")
	require.NoError(t, os.MkdirAll(golden, 0o755))

	scenario := &Scenario{
		Name:       "empty_run",
		Start:      0,
		Until:      1000,
		Devices:    []conductor.DeviceConfig{{ID: "logic", Type: "abstract"}},
		Assertions: []Assertion{{Type: AssertCommandCount, Count: 0}},
	}
	require.NoError(t, os.WriteFile(filepath.Join(golden, "empty_run.golden"), nil, 0o644))

	t.Chdir(dir)

	result := RunWithGolden(t, scenario)
	assert.Empty(t, result.TraceText())
}
