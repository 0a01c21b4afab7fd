// ABOUTME: Tests for YAML config loading, env expansion, and validation.
// ABOUTME: Covers defaults, duration parsing, and required-field errors.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "herder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `
server:
  http_addr: "localhost:8080"

backend:
  url: "http://localhost:11311"
  timeout: "2s"
  kill_default: "turtle1"

gateway:
  url: "http://localhost:9000"
  namespace: "/services/turtlesim"

launcher:
  command: ["rocon_launch", "--screen"]
  base_port: 1141
  grace_period: "1s"

spawn:
  min_x: 3.5
  max_x: 6.5
  min_y: 3.5
  max_y: 6.5

agents:
  initial: ["kobuki", "guimul"]
  startup_timeout: "10s"

database:
  path: "/tmp/herd.db"

logging:
  level: "info"
  format: "text"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "http://localhost:11311", cfg.Backend.URL)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "turtle1", cfg.Backend.KillDefault)
	assert.Equal(t, []string{"rocon_launch", "--screen"}, cfg.Launcher.Command)
	assert.Equal(t, 1141, cfg.Launcher.BasePort)
	assert.Equal(t, time.Second, cfg.Launcher.GracePeriod)
	assert.Equal(t, []string{"kobuki", "guimul"}, cfg.Agents.Initial)
	assert.Equal(t, 10*time.Second, cfg.Agents.StartupTimeout)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "localhost:8080"
backend:
  url: "http://localhost:11311"
gateway:
  url: "http://localhost:9000"
database:
  path: "/tmp/herd.db"
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "/services/turtlesim", cfg.Gateway.Namespace)
	assert.Equal(t, 1141, cfg.Launcher.BasePort)
	assert.Equal(t, 30*time.Second, cfg.Agents.StartupTimeout)
	assert.Equal(t, 3.5, cfg.Spawn.MinX)
	assert.Equal(t, 6.5, cfg.Spawn.MaxX)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("HERDER_TEST_SECRET", "sekrit")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "localhost:8080"
backend:
  url: "http://localhost:11311"
gateway:
  url: "http://localhost:9000"
database:
  path: "/tmp/herd.db"
auth:
  jwt_secret: "${HERDER_TEST_SECRET}"
`))
	require.NoError(t, err)
	assert.Equal(t, "sekrit", cfg.Auth.JWTSecret)
}

func TestLoadMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
backend:
  url: "http://localhost:11311"
gateway:
  url: "http://localhost:9000"
database:
  path: "/tmp/herd.db"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "missing backend url",
			content: `
server:
  http_addr: "localhost:8080"
gateway:
  url: "http://localhost:9000"
database:
  path: "/tmp/herd.db"
`,
			wantErr: "backend.url",
		},
		{
			name: "initial agents without launcher",
			content: `
server:
  http_addr: "localhost:8080"
backend:
  url: "http://localhost:11311"
gateway:
  url: "http://localhost:9000"
database:
  path: "/tmp/herd.db"
agents:
  initial: ["kobuki"]
`,
			wantErr: "launcher.command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: "localhost:8080"
backend:
  url: "http://localhost:11311"
  timeout: "soon"
gateway:
  url: "http://localhost:9000"
database:
  path: "/tmp/herd.db"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.timeout")
}

func TestLoadInvertedSpawnBounds(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: "localhost:8080"
backend:
  url: "http://localhost:11311"
gateway:
  url: "http://localhost:9000"
database:
  path: "/tmp/herd.db"
spawn:
  min_x: 6.5
  max_x: 3.5
  min_y: 3.5
  max_y: 6.5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn region")
}
