package config

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
server:
  name: hub.example.net
  sid: 1HB
  hide_servers: true
limits:
  max_mode_params: 4
links:
  listen: 127.0.0.1:6697
  peers:
    - name: leaf.example.net
      sid: 2LF
      password: hunter2
      address: 10.0.0.2:6697
  connect: [leaf.example.net]
log:
  level: debug
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Limits.MaxLineLength)
	assert.Equal(t, 6, cfg.Limits.MaxModeParams)
	assert.Equal(t, 50, cfg.Limits.ChannelLength)
	assert.Equal(t, 23, cfg.Limits.KeyLength)
	assert.Equal(t, 9, cfg.Limits.IDLength)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "decorrelated", cfg.Links.ReconnectStrategy)
	assert.ErrorIs(t, cfg.Reload(""), ErrNoSource)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "chansync.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "hub.example.net", cfg.Server.Name)
	assert.Equal(t, "1HB", cfg.Server.SID)
	assert.True(t, cfg.Server.HideServers)
	assert.Equal(t, 4, cfg.Limits.MaxModeParams)
	assert.Equal(t, 512, cfg.Limits.MaxLineLength)
	assert.Equal(t, "debug", cfg.Log.Level)

	p, ok := cfg.Peer("LEAF.example.net")
	require.True(t, ok)
	assert.Equal(t, "2LF", p.SID)
	assert.Equal(t, "hunter2", p.Password)
}

func TestLoadTOMLAndJSON(t *testing.T) {
	cfg, err := Load(writeFile(t, "chansync.toml", `
[server]
name = "toml.example.net"
sid = "3TM"
ignore_bogus_ts = true
`))
	require.NoError(t, err)
	assert.Equal(t, "toml.example.net", cfg.Server.Name)
	assert.True(t, cfg.Server.IgnoreBogusTS)

	cfg, err = Load(writeFile(t, "chansync.json", `{"server":{"name":"json.example.net","sid":"4JS"},"journal":{"dsn":"sqlite://journal.db"}}`))
	require.NoError(t, err)
	assert.Equal(t, "json.example.net", cfg.Server.Name)
	assert.Equal(t, "sqlite://journal.db", cfg.Journal.DSN)
}

func TestLoadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chansync.yaml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(yamlConfig))
	}))
	defer srv.Close()

	cfg, err := Load(srv.URL + "/chansync.yaml")
	require.NoError(t, err)
	assert.Equal(t, "hub.example.net", cfg.Server.Name)

	_, err = Load(srv.URL + "/missing.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHANSYNC_SERVER_NAME", "env.example.net")
	t.Setenv("CHANSYNC_MAX_LINE_LENGTH", "1024")
	t.Setenv("CHANSYNC_HIDE_SERVERS", "yes")

	cfg, err := Load(writeFile(t, "chansync.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "env.example.net", cfg.Server.Name)
	assert.Equal(t, 1024, cfg.Limits.MaxLineLength)
	assert.True(t, cfg.Server.HideServers)
}

func TestReload(t *testing.T) {
	path := writeFile(t, "chansync.yaml", yamlConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  name: reloaded.example.net\n  sid: 1HB\n"), 0o600))
	require.NoError(t, cfg.Reload(""))
	assert.Equal(t, "reloaded.example.net", cfg.Server.Name)
	assert.Empty(t, cfg.Links.Peers)

	// A bad reload leaves the current configuration alone.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  sid: nope\n"), 0o600))
	require.Error(t, cfg.Reload(""))
	assert.Equal(t, "reloaded.example.net", cfg.Server.Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad sid", func(c *Config) { c.Server.SID = "abc" }, "server.sid"},
		{"missing name", func(c *Config) { c.Server.Name = "" }, "server.name"},
		{"line too short", func(c *Config) { c.Limits.MaxLineLength = 32 }, "limits.max_line_length"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad reconnect strategy", func(c *Config) { c.Links.ReconnectStrategy = "eager" }, "links.reconnect_strategy"},
		{"reconnect max below min", func(c *Config) { c.Links.ReconnectMax = 1 }, "links.reconnect_max"},
		{"bad listen", func(c *Config) { c.Admin.Listen = "nowhere" }, "admin.listen"},
		{"peer without password", func(c *Config) {
			c.Links.Peers = []Peer{{Name: "leaf", SID: "2LF"}}
		}, "password"},
		{"duplicate sid", func(c *Config) {
			c.Links.Peers = []Peer{{Name: "leaf", SID: c.Server.SID, Password: "x"}}
		}, "used by both"},
		{"unknown connect", func(c *Config) {
			c.Links.Connect = []string{"leaf"}
		}, "unknown peer"},
		{"connect without address", func(c *Config) {
			c.Links.Peers = []Peer{{Name: "leaf", SID: "2LF", Password: "x"}}
			c.Links.Connect = []string{"leaf"}
		}, "no address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
