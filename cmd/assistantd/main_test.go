package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const testConfig = `
logging:
  level: error
privacy:
  salt: cli-test-salt
  scrub_secrets: false
`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "assistantd dev")
	assert.Contains(t, out, "Commit:")
}

func TestConfigCommand_RedactsSecrets(t *testing.T) {
	path := writeConfig(t, testConfig)
	out, err := execute(t, "", "config", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "cli-test-salt")
	assert.Contains(t, out, "[REDACTED]")
}

func TestConfigCommand_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "session:\n  timeout: -1m\n")
	_, err := execute(t, "", "config", "--config", path)
	assert.Error(t, err)
}

func TestChatCommand(t *testing.T) {
	path := writeConfig(t, testConfig)
	input := strings.Join([]string{
		"/rate 5",
		"How do I read a file line by line in Go?",
		"/rate 5",
		"/rate nine",
		"/rate 9",
		"/quit",
	}, "\n")

	out, err := execute(t, input, "chat", "--config", path, "--user", "alice", "--training-consent")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to rate yet")
	assert.Contains(t, out, "thanks")
	assert.Contains(t, out, "usage: /rate N")
	assert.Contains(t, out, "rating rejected")
}

func TestChatCommand_EndsOnEOF(t *testing.T) {
	path := writeConfig(t, testConfig)
	out, err := execute(t, "Tell me a short story about a lighthouse\n", "chat", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "> ")
}
