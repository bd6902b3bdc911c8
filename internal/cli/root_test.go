package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "stockline", cmd.Use)
	assert.Contains(t, cmd.Long, "conversational flows")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"chat"}, {"inbox"}, {"import"}, {"sweep"}, {"audit"}, {"scenario"},
		{"approvals", "list"}, {"approvals", "approve"}, {"approvals", "deny"},
		{"config", "init"}, {"config", "show"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		path []string
		flag string
		def  string
	}{
		{[]string{"chat"}, "as", "local"},
		{[]string{"inbox"}, "dir", ""},
		{[]string{"inbox"}, "outbox", ""},
		{[]string{"sweep"}, "limit", "1000"},
		{[]string{"audit"}, "product", ""},
		{[]string{"audit"}, "limit", "0"},
		{[]string{"approvals", "list"}, "status", "pending"},
		{[]string{"scenario"}, "update", "false"},
		{[]string{"scenario"}, "filter", ""},
	}
	cmd := NewRootCommand()
	for _, tt := range tests {
		sub, _, err := cmd.Find(tt.path)
		require.NoError(t, err)
		f := sub.Flags().Lookup(tt.flag)
		require.NotNil(t, f, "%v --%s", tt.path, tt.flag)
		assert.Equal(t, tt.def, f.DefValue, "%v --%s", tt.path, tt.flag)
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "sweep"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// runExecute runs args through Execute and returns stdout, stderr and the
// exit code.
func runExecute(args ...string) (string, string, int) {
	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	code := Execute(cmd)
	return out.String(), errOut.String(), code
}

func TestExecute_JSONErrorResponse(t *testing.T) {
	out, errOut, code := runExecute("--format", "json", "sweep", "--limit", "0")
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, errOut)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_COMMAND", resp.Error.Code)
	assert.Equal(t, "--limit must be positive", resp.Error.Message)
}

func TestExecute_JSONErrorCarriesCause(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")
	out, _, code := runExecute("--format", "json", "--config", missing, "sweep")
	assert.Equal(t, ExitCommandError, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "failed to load config")
	assert.NotEmpty(t, resp.Error.Details)
}

func TestExecute_TextErrorOnStderr(t *testing.T) {
	out, errOut, code := runExecute("sweep", "--limit", "0")
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, out)
	assert.Equal(t, "Error [E_COMMAND]: --limit must be positive\n", errOut)
}

func TestExecute_Success(t *testing.T) {
	out, errOut, code := runExecute("--format", "json", "config", "show", "--help")
	assert.Equal(t, ExitSuccess, code)
	assert.Empty(t, errOut)
	assert.Contains(t, out, "Usage:")
}
