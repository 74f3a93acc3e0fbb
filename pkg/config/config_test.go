package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
listen: ":9000"
data_dir: /tmp/shipgate-test
log:
  level: debug
targets:
  - host: app-1
    ssh:
      addr: 10.0.0.5:22
      user: deploy
      key_file: /etc/shipgate/id_ed25519
    commands:
      fetch: git -C /srv/app fetch && git -C /srv/app checkout {ref}
      install: cd /srv/app && npm ci --production
      restart: sudo systemctl restart app
    probe:
      endpoint: http://10.0.0.5:3000/health
      interval: 5s
      timeout: 2m
      max_attempts: 10
      success_token: OK
    command_timeout: 90s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Targets, 1)

	target := cfg.Targets[0]
	assert.Equal(t, "app-1", target.Host)
	assert.Equal(t, "deploy", target.SSH.User)
	assert.Equal(t, 5*time.Second, target.Probe.Interval.Std())
	assert.Equal(t, 2*time.Minute, target.Probe.Timeout.Std())
	assert.Equal(t, 10, target.Probe.MaxAttempts)
	assert.Equal(t, "OK", target.Probe.SuccessToken)
	assert.Equal(t, 90*time.Second, target.CommandTimeout.Std())
	assert.Contains(t, target.Commands.Fetch, "{ref}")
}

func TestLoad_Defaults(t *testing.T) {
	minimal := `
targets:
  - host: app-1
    ssh:
      addr: 10.0.0.5:22
      user: deploy
      key_file: /etc/shipgate/key
    commands:
      fetch: a
      install: b
      restart: c
    probe:
      endpoint: http://10.0.0.5:3000/health
`
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, ":8420", cfg.Listen)
	assert.Equal(t, "/var/lib/shipgate", cfg.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_LocalTarget(t *testing.T) {
	local := `
targets:
  - host: builder
    local: true
    commands:
      fetch: git -C /srv/app checkout {ref}
      install: make -C /srv/app build
      restart: sudo systemctl restart app
    probe:
      endpoint: http://127.0.0.1:3000/health
`
	cfg, err := Load(writeConfig(t, local))
	require.NoError(t, err)

	require.Len(t, cfg.Targets, 1)
	assert.True(t, cfg.Targets[0].Local)
	assert.Empty(t, cfg.Targets[0].SSH.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{
			name:    "no targets",
			mutate:  `listen: ":9000"`,
			wantErr: "at least one target",
		},
		{
			name: "missing host",
			mutate: `
targets:
  - ssh: {addr: "a:22", user: u, key_file: k}
    commands: {fetch: a, install: b, restart: c}
    probe: {endpoint: "http://a/health"}
`,
			wantErr: "host is required",
		},
		{
			name: "missing ssh addr",
			mutate: `
targets:
  - host: app-1
    ssh: {user: u, key_file: k}
    commands: {fetch: a, install: b, restart: c}
    probe: {endpoint: "http://a/health"}
`,
			wantErr: "ssh.addr",
		},
		{
			name: "missing restart command",
			mutate: `
targets:
  - host: app-1
    ssh: {addr: "a:22", user: u, key_file: k}
    commands: {fetch: a, install: b}
    probe: {endpoint: "http://a/health"}
`,
			wantErr: "restart is required",
		},
		{
			name: "non-http probe endpoint",
			mutate: `
targets:
  - host: app-1
    ssh: {addr: "a:22", user: u, key_file: k}
    commands: {fetch: a, install: b, restart: c}
    probe: {endpoint: "10.0.0.5:3000"}
`,
			wantErr: "http(s)",
		},
		{
			name: "duplicate hosts",
			mutate: `
targets:
  - host: app-1
    ssh: {addr: "a:22", user: u, key_file: k}
    commands: {fetch: a, install: b, restart: c}
    probe: {endpoint: "http://a/health"}
  - host: app-1
    ssh: {addr: "b:22", user: u, key_file: k}
    commands: {fetch: a, install: b, restart: c}
    probe: {endpoint: "http://b/health"}
`,
			wantErr: "duplicate",
		},
		{
			name: "bad duration",
			mutate: `
targets:
  - host: app-1
    ssh: {addr: "a:22", user: u, key_file: k}
    commands: {fetch: a, install: b, restart: c}
    probe:
      endpoint: http://a/health
      interval: soon
`,
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfig_TargetLookup(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	target, ok := cfg.Target("app-1")
	require.True(t, ok)
	assert.Equal(t, "app-1", target.Host)

	_, ok = cfg.Target("app-2")
	assert.False(t, ok)
}
