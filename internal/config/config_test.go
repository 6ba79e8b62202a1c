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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
signaling:
  url: wss://relay.example.com/channel
  client_id: bridge-1
model:
  url: wss://speech.example.com/stream
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "voicebridge", cfg.Service.Name)
	assert.Equal(t, ":8090", cfg.HTTP.Address)
	assert.Equal(t, RoleMaster, cfg.Signaling.Role)
	assert.Equal(t, time.Hour, cfg.Signaling.TokenTTL)
	assert.Equal(t, 2, cfg.Audio.VADAggressiveness)
	assert.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SIGNALING_ROLE", "viewer")
	t.Setenv("SIGNALING_REMOTE_ID", "bridge-master")
	t.Setenv("VAD_AGGRESSIVENESS", "3")
	t.Setenv("HTTP_ADDRESS", ":9999")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, RoleViewer, cfg.Signaling.Role)
	assert.Equal(t, "bridge-master", cfg.Signaling.RemoteID)
	assert.Equal(t, 3, cfg.Audio.VADAggressiveness)
	assert.Equal(t, ":9999", cfg.HTTP.Address)
}

func TestLoadRejectsMissingSignalingURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
signaling:
  client_id: bridge-1
model:
  url: wss://speech.example.com/stream
`))
	assert.ErrorContains(t, err, "signaling.url")
}

func TestLoadRejectsViewerWithoutRemote(t *testing.T) {
	_, err := Load(writeConfig(t, `
signaling:
  url: wss://relay.example.com/channel
  client_id: bridge-1
  role: viewer
model:
  url: wss://speech.example.com/stream
`))
	assert.ErrorContains(t, err, "remote_id")
}

func TestLoadRejectsBadAggressiveness(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
audio:
  vad_aggressiveness: 7
`))
	assert.ErrorContains(t, err, "vad_aggressiveness")
}
