package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chansync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  name: hub.example.net
  sid: 1HB
links:
  peers:
    - name: leaf.example.net
      sid: 2LF
      password: hunter2
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", "--config", path, "--log-level", "debug"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "hub.example.net (1HB): 1 peers, configuration ok\n", out.String())

	rootCmd.SetArgs([]string{"check", "--config", path, "--log-level", "loud"})
	assert.Error(t, rootCmd.Execute())
}
