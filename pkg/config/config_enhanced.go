package config

import (
	"encoding/json"
	"fmt"
	"time"

	"fileshare/pkg/utils"
)

// ServerConfigRaw is the on-disk form of ServerConfig, where sizes and
// durations may be strings.
type ServerConfigRaw struct {
	Address          string      `json:"address"`
	StorageDir       string      `json:"storage_dir"`
	AdminAddress     string      `json:"admin_address"`
	MetricsAddress   string      `json:"metrics_address"`
	MountPoint       string      `json:"mount_point"`
	HandshakeTimeout string      `json:"handshake_timeout"`
	WriteTimeout     string      `json:"write_timeout"`
	ShutdownGrace    string      `json:"shutdown_grace"`
	MaxUploadSize    interface{} `json:"max_upload_size"` // Can be string or number
	QueueSize        int         `json:"queue_size"`
}

type ClientConfigRaw struct {
	Address     string `json:"address"`
	Username    string `json:"username"`
	DialTimeout string `json:"dial_timeout"`
}

type ConfigRaw struct {
	Server ServerConfigRaw `json:"server"`
	Client ClientConfigRaw `json:"client"`
}

// ParseServerConfig converts the raw form, parsing sizes and durations.
func ParseServerConfig(raw ServerConfigRaw) (ServerConfig, error) {
	cfg := ServerConfig{
		Address:        raw.Address,
		StorageDir:     raw.StorageDir,
		AdminAddress:   raw.AdminAddress,
		MetricsAddress: raw.MetricsAddress,
		MountPoint:     raw.MountPoint,
		QueueSize:      raw.QueueSize,
	}

	var err error
	if cfg.HandshakeTimeout, err = parseDuration("handshake_timeout", raw.HandshakeTimeout); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout); err != nil {
		return cfg, err
	}
	if cfg.ShutdownGrace, err = parseDuration("shutdown_grace", raw.ShutdownGrace); err != nil {
		return cfg, err
	}

	switch v := raw.MaxUploadSize.(type) {
	case float64:
		// JSON numbers are parsed as float64
		cfg.MaxUploadSize = int64(v)
	case string:
		size, err := utils.ParseDataSize(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid max_upload_size format: %w", err)
		}
		cfg.MaxUploadSize = size
	case nil:
		cfg.MaxUploadSize = 0
	default:
		return cfg, fmt.Errorf("max_upload_size must be a number or string, got %T", v)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func ParseClientConfig(raw ClientConfigRaw) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if raw.Address != "" {
		cfg.Address = raw.Address
	}
	cfg.Username = raw.Username

	timeout, err := parseDuration("dial_timeout", raw.DialTimeout)
	if err != nil {
		return cfg, err
	}
	if timeout > 0 {
		cfg.DialTimeout = timeout
	}
	return cfg, nil
}

// LoadConfigEnhanced parses config bytes with support for human-friendly
// sizes and durations.
func LoadConfigEnhanced(data []byte) (*Config, error) {
	var raw ConfigRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	server, err := ParseServerConfig(raw.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	client, err := ParseClientConfig(raw.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}

	return &Config{Server: server, Client: client}, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", field)
	}
	return d, nil
}
