package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// EntryPoint mounts an application below a URL path.
type EntryPoint struct {
	Path string `yaml:"path"`
	// App names the application registered with the server binary
	App string `yaml:"app"`
}

// Config is built once at startup and shared read-only by the server,
// the request handler and every reply.
type Config struct {
	HTTPAddr  string `yaml:"http_address"`
	HTTPSAddr string `yaml:"https_address"`

	CertFile      string `yaml:"ssl_certificate"`
	KeyFile       string `yaml:"ssl_private_key"`
	DHFile        string `yaml:"ssl_tmp_dh"`
	ClientVerify  string `yaml:"ssl_client_verification"`
	ClientCAFile  string `yaml:"ssl_client_ca"`
	CipherList    string `yaml:"ssl_cipher_list"`
	TLSMinVersion string `yaml:"ssl_min_version"`

	DocRoot   string `yaml:"docroot"`
	ErrorRoot string `yaml:"errroot"`
	AccessLog string `yaml:"accesslog"`
	LogLevel  string `yaml:"log_level"`

	Threads     int  `yaml:"threads"`
	Compression bool `yaml:"compression"`

	MaxMemoryRequestSize int64 `yaml:"max_memory_request_size"`
	MaxRequestSize       int64 `yaml:"max_request_size"`
	MaxWebSocketMessage  int64 `yaml:"max_websocket_message"`

	ReadTimeout      time.Duration `yaml:"read_timeout"`
	KeepAliveTimeout time.Duration `yaml:"keep_alive_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	// SessionExpiry is the period of the application session sweep, 0
	// disables it.
	SessionExpiry time.Duration `yaml:"session_expiry"`

	EntryPoints []EntryPoint `yaml:"entry_points"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		HTTPAddr:             ":8080",
		ClientVerify:         "none",
		DocRoot:              ".",
		AccessLog:            "-",
		LogLevel:             "info",
		Threads:              10,
		Compression:          true,
		MaxMemoryRequestSize: 128 * 1024,
		MaxRequestSize:       40 * 1024 * 1024,
		MaxWebSocketMessage:  112 * 1024,
		ReadTimeout:          120 * time.Second,
		KeepAliveTimeout:     10 * time.Second,
		WriteTimeout:         120 * time.Second,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" && c.HTTPSAddr == "" {
		return fmt.Errorf("%w: no http or https address", ErrInvalidConfig)
	}
	if c.HTTPSAddr != "" && (c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("%w: https requires ssl_certificate and ssl_private_key", ErrInvalidConfig)
	}
	if _, ok := clientAuthModes[strings.ToLower(c.ClientVerify)]; !ok && c.ClientVerify != "" {
		return fmt.Errorf("%w: ssl_client_verification %q", ErrInvalidConfig, c.ClientVerify)
	}
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be at least 1", ErrInvalidConfig)
	}
	if c.MaxMemoryRequestSize < 0 || c.MaxRequestSize < 0 || c.MaxWebSocketMessage <= 0 {
		return fmt.Errorf("%w: negative size limit", ErrInvalidConfig)
	}
	if c.ReadTimeout <= 0 || c.KeepAliveTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	for _, ep := range c.EntryPoints {
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%w: entry point %q must start with /", ErrInvalidConfig, ep.Path)
		}
	}
	return nil
}
