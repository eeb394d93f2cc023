package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigEnhanced(t *testing.T) {
	data := []byte(`{
		"server": {
			"address": ":7000",
			"storage_dir": "/srv/share",
			"admin_address": "127.0.0.1:7001",
			"metrics_address": "127.0.0.1:7002",
			"handshake_timeout": "5s",
			"shutdown_grace": "500ms",
			"max_upload_size": "64MiB"
		},
		"client": {
			"address": "share.local:7000",
			"username": "alice",
			"dial_timeout": "3s"
		}
	}`)

	cfg, err := LoadConfigEnhanced(data)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "/srv/share", cfg.Server.StorageDir)
	assert.Equal(t, "127.0.0.1:7001", cfg.Server.AdminAddress)
	assert.Equal(t, "127.0.0.1:7002", cfg.Server.MetricsAddress)
	assert.Equal(t, 5*time.Second, cfg.Server.HandshakeTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.Server.WriteTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.ShutdownGrace)
	assert.Equal(t, int64(64*1024*1024), cfg.Server.MaxUploadSize)
	assert.Equal(t, DefaultQueueSize, cfg.Server.QueueSize)

	assert.Equal(t, "share.local:7000", cfg.Client.Address)
	assert.Equal(t, "alice", cfg.Client.Username)
	assert.Equal(t, 3*time.Second, cfg.Client.DialTimeout)
}

func TestLoadConfigNumericUploadSize(t *testing.T) {
	cfg, err := LoadConfigEnhanced([]byte(`{"server": {"storage_dir": "x", "max_upload_size": 1024}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), cfg.Server.MaxUploadSize)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"BadJSON", `{`},
		{"BadSize", `{"server": {"max_upload_size": "lots"}}`},
		{"WrongSizeType", `{"server": {"max_upload_size": true}}`},
		{"BadDuration", `{"server": {"handshake_timeout": "soon"}}`},
		{"NegativeDuration", `{"server": {"write_timeout": "-1s"}}`},
		{"BadClientDuration", `{"client": {"dial_timeout": "x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigEnhanced([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileshare.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"storage_dir": "/data"}}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.Server.StorageDir)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FILESHARE_ADDRESS", ":6000")
	t.Setenv("FILESHARE_STORAGE_DIR", "/tmp/share")
	t.Setenv("FILESHARE_MAX_UPLOAD_SIZE", "1MB")
	t.Setenv("FILESHARE_METRICS_ADDRESS", ":6002")
	t.Setenv("FILESHARE_USER", "bob")

	cfg := LoadFromEnv()
	assert.Equal(t, ":6000", cfg.Server.Address)
	assert.Equal(t, "/tmp/share", cfg.Server.StorageDir)
	assert.Equal(t, int64(1000000), cfg.Server.MaxUploadSize)
	assert.Equal(t, ":6002", cfg.Server.MetricsAddress)
	assert.Equal(t, "bob", cfg.Client.Username)
	assert.Equal(t, DefaultHandshakeTimeout, cfg.Server.HandshakeTimeout)
}

func TestServerConfigValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrNoStorageDir)

	cfg.StorageDir = t.TempDir()
	assert.NoError(t, cfg.Validate())

	cfg.MaxUploadSize = -1
	assert.Error(t, cfg.Validate())
}
