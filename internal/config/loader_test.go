package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty config gets defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "reroute", cfg.Service.Name)
				assert.Equal(t, BackendSQLite, cfg.Rerouting.Backend)
				assert.Equal(t, "rerouting:targets", cfg.Rerouting.Table)
				assert.Equal(t, []string{"default"}, cfg.Dispatch.Queues)
				assert.Equal(t, 1, cfg.Dispatch.Workers)
				assert.Equal(t, time.Second, cfg.Dispatch.PollInterval)
				assert.Equal(t, 4, cfg.Retry.MaxAttempts)
			},
		},
		{
			name: "job types inherit queue and attempts",
			yaml: `
dispatch:
  queues: [critical, default]
retry:
  max_attempts: 2
job_types:
  Foo:
    reroutable: false
  Bar:
    queue: default
    max_attempts: 7
    exec: /bin/true
    timeout: 5s
`,
			checkFn: func(t *testing.T, cfg *Config) {
				foo := cfg.JobTypes["Foo"]
				assert.Equal(t, "critical", foo.Queue)
				assert.Equal(t, 2, foo.MaxAttempts)
				require.NotNil(t, foo.Reroutable)
				assert.False(t, *foo.Reroutable)

				bar := cfg.JobTypes["Bar"]
				assert.Equal(t, "default", bar.Queue)
				assert.Equal(t, 7, bar.MaxAttempts)
				assert.Nil(t, bar.Reroutable)
				assert.Equal(t, 5*time.Second, bar.Timeout)
			},
		},
		{
			name: "env interpolation",
			yaml: `
rerouting:
  backend: redis
  redis:
    addr: ${REROUTE_TEST_REDIS_ADDR}
`,
			env: map[string]string{"REROUTE_TEST_REDIS_ADDR": "redis.internal:6380"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis.internal:6380", cfg.Rerouting.Redis.Addr)
			},
		},
		{
			name: "unset api key variable",
			yaml: `
api:
  enabled: true
  api_key: ${REROUTE_TEST_MISSING_KEY}
`,
			wantErr: "REROUTE_TEST_MISSING_KEY",
		},
		{
			name: "scoped tokens",
			yaml: `
api:
  enabled: true
  tokens:
    - token: viewer
      scopes: [markers:ro, events:ro]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.API.Tokens, 1)
				assert.Equal(t, []string{"markers:ro", "events:ro"}, cfg.API.Tokens[0].Scopes)
			},
		},
		{
			name:    "unknown token scope",
			yaml:    "api:\n  enabled: true\n  tokens:\n    - token: x\n      scopes: [plugin:rw]\n",
			wantErr: "unknown scope",
		},
		{
			name: "webhooks",
			yaml: `
webhooks:
  - name: deploy
    job_type: Deploy
    secret: ${REROUTE_TEST_HOOK_SECRET}
`,
			env: map[string]string{"REROUTE_TEST_HOOK_SECRET": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Webhooks, 1)
				assert.Equal(t, "s3cret", cfg.Webhooks[0].Secret)
				assert.Equal(t, "Deploy", cfg.Webhooks[0].JobType)
			},
		},
		{
			name:    "duplicate webhook",
			yaml:    "webhooks:\n  - {name: a, job_type: X, secret: s}\n  - {name: a, job_type: Y, secret: s}\n",
			wantErr: "duplicate webhook",
		},
		{
			name:    "webhook without secret",
			yaml:    "webhooks:\n  - {name: a, job_type: X}\n",
			wantErr: "secret is empty",
		},
		{
			name:    "webhook without job type",
			yaml:    "webhooks:\n  - {name: a, secret: s}\n",
			wantErr: "job_type is empty",
		},
		{
			name:    "webhook secret env unset",
			yaml:    "webhooks:\n  - {name: a, job_type: X, secret: \"${REROUTE_TEST_UNSET_HOOK_SECRET}\"}\n",
			wantErr: "REROUTE_TEST_UNSET_HOOK_SECRET",
		},
		{
			name:    "unknown backend",
			yaml:    "rerouting:\n  backend: memcached\n",
			wantErr: "rerouting.backend",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "duplicate queues",
			yaml:    "dispatch:\n  queues: [a, a]\n",
			wantErr: "duplicate queue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadResolvesRelativeStatePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state:\n  path: data/state.db\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.SourcePath)
	assert.Equal(t, filepath.Join(dir, "data", "state.db"), cfg.State.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "config file not found"))
}

func TestFingerprintChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: a\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	first, err := cfg.Fingerprint()
	require.NoError(t, err)
	assert.Len(t, first, 64)

	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: b\n"), 0o644))
	second, err := cfg.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = (&Config{}).Fingerprint()
	assert.Error(t, err)
}

func TestDiscoverUsesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	t.Setenv("REROUTE_CONFIG", path)

	got, err := Discover()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
