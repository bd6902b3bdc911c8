package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

const passingScenario = `name: quick_help
description: Asking for help keeps the session idle.
identity: u1
steps:
  - say: help
    expect: {flow: idle, reply_contains: "I can help with:"}
`

const failingScenario = `name: wrong_stock
description: An assertion that does not hold.
identity: u1
steps:
  - say: help
assertions:
  - {type: stock, product: p1, equals: 1}
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestScenarioCommand_RepositoryScenarios(t *testing.T) {
	out, err := execute(t, "", "scenario", scenarioDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ add_stock_by_disambiguation")
	assert.Contains(t, out, "✓ order_needs_approval")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestScenarioCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "quick_help", passingScenario)
	writeScenario(t, dir, "wrong_stock", failingScenario)

	out, err := execute(t, "", "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ quick_help")
	assert.Contains(t, out, "✗ wrong_stock")
	assert.Contains(t, out, "expected 1, got 40")
	assert.Contains(t, out, "Scenario Summary: 1 passed, 1 failed, 2 total")
}

func TestScenarioCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong_stock", failingScenario)

	out, err := execute(t, "", "--format", "json", "scenario", dir)
	require.Error(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
}

func TestScenarioCommand_Filter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "quick_help", passingScenario)
	writeScenario(t, dir, "wrong_stock", failingScenario)

	out, err := execute(t, "", "scenario", dir, "--filter", "quick_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	out, err = execute(t, "", "scenario", dir, "--filter", "none_*")
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestScenarioCommand_Golden(t *testing.T) {
	dir := t.TempDir()
	file := writeScenario(t, dir, "quick_help", passingScenario)

	out, err := execute(t, "", "scenario", "--update", file)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ quick_help (golden updated)")

	golden := filepath.Join(dir, "golden", "quick_help.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "u1> help\n")

	_, err = execute(t, "", "scenario", file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("# stale\n"), 0o644))
	out, err = execute(t, "", "scenario", file)
	require.Error(t, err)
	assert.Contains(t, out, "transcript does not match golden file")
}

func TestScenarioCommand_BadPaths(t *testing.T) {
	_, err := execute(t, "", "scenario", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	dir := t.TempDir()
	writeScenario(t, dir, "broken", "name: broken\n")
	out, err := execute(t, "", "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "load error")
}
