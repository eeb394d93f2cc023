package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"fileshare/pkg/utils"
)

const (
	DefaultAddress          = ":9090"
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultShutdownGrace    = 2 * time.Second
	DefaultQueueSize        = 16
	DefaultDialTimeout      = 10 * time.Second
)

var ErrNoStorageDir = errors.New("storage directory is required")

type Config struct {
	Server ServerConfig `json:"server"`
	Client ClientConfig `json:"client"`
}

type ServerConfig struct {
	Address      string `json:"address"`
	StorageDir   string `json:"storage_dir"`
	AdminAddress   string `json:"admin_address,omitempty"`
	MetricsAddress string `json:"metrics_address,omitempty"`
	MountPoint     string `json:"mount_point,omitempty"`

	// HandshakeTimeout bounds the username exchange only.
	HandshakeTimeout time.Duration `json:"-"`
	// WriteTimeout bounds asynchronous pushes to a session.
	WriteTimeout  time.Duration `json:"-"`
	ShutdownGrace time.Duration `json:"-"`
	// MaxUploadSize of zero means unlimited.
	MaxUploadSize int64 `json:"-"`
	QueueSize     int   `json:"queue_size,omitempty"`
}

type ClientConfig struct {
	Address     string        `json:"address"`
	Username    string        `json:"username"`
	DialTimeout time.Duration `json:"-"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:          DefaultAddress,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		ShutdownGrace:    DefaultShutdownGrace,
		QueueSize:        DefaultQueueSize,
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:     "localhost" + DefaultAddress,
		DialTimeout: DefaultDialTimeout,
	}
}

// LoadConfig reads a JSON config file. Sizes and durations may be given in
// human-friendly form ("512MB", "30s").
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadConfigEnhanced(data)
}

func LoadFromEnv() *Config {
	cfg := &Config{
		Server: DefaultServerConfig(),
		Client: DefaultClientConfig(),
	}

	cfg.Server.Address = getEnv("FILESHARE_ADDRESS", cfg.Server.Address)
	cfg.Server.StorageDir = getEnv("FILESHARE_STORAGE_DIR", "")
	cfg.Server.AdminAddress = getEnv("FILESHARE_ADMIN_ADDRESS", "")
	cfg.Server.MetricsAddress = getEnv("FILESHARE_METRICS_ADDRESS", "")
	cfg.Server.MountPoint = getEnv("FILESHARE_MOUNT_POINT", "")
	cfg.Server.MaxUploadSize = utils.ParseDataSizeWithDefault(os.Getenv("FILESHARE_MAX_UPLOAD_SIZE"), 0)

	cfg.Client.Address = getEnv("FILESHARE_SERVER", cfg.Client.Address)
	cfg.Client.Username = getEnv("FILESHARE_USER", "")

	return cfg
}

// Validate checks the server settings needed before binding.
func (c *ServerConfig) Validate() error {
	if c.StorageDir == "" {
		return ErrNoStorageDir
	}
	if c.Address == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxUploadSize < 0 {
		return fmt.Errorf("max upload size must not be negative")
	}
	if c.HandshakeTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownGrace < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *ServerConfig) applyDefaults() {
	d := DefaultServerConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
