package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Serializer names accepted by the client section
const (
	SerializerHTTP = "http"
	SerializerJSON = "json"
)

// Cache backend names
const (
	BackendDisk   = "disk"
	BackendMemory = "memory"
)

// Config represents the application configuration
type Config struct {
	Client   ClientConfig   `yaml:"client"`
	Cache    CacheConfig    `yaml:"cache"`
	Download DownloadConfig `yaml:"download"`
	Log      LogConfig      `yaml:"log"`
}

// ClientConfig contains settings shared by every request of a client
type ClientConfig struct {
	Timeout            string            `yaml:"timeout"`
	RequestSerializer  string            `yaml:"request_serializer"`  // "http" or "json"
	ResponseSerializer string            `yaml:"response_serializer"` // "json" or "http"
	Headers            map[string]string `yaml:"headers"`
	ProxyURL           string            `yaml:"proxy_url"`
	TLS                TLSConfig         `yaml:"tls"`
}

// TLSConfig pins a self-signed server certificate
type TLSConfig struct {
	CertFile            string `yaml:"cert_file"`
	ValidatesDomainName *bool  `yaml:"validates_domain_name"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Backend string `yaml:"backend"` // "disk" or "memory"
	Folder  string `yaml:"folder"`
	// Additional is mixed into every cache key unless a request overrides it
	Additional string `yaml:"additional"`
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	Folder string `yaml:"folder"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Client.Timeout == "" {
		c.Client.Timeout = "30s"
	}
	if c.Client.RequestSerializer == "" {
		c.Client.RequestSerializer = SerializerHTTP
	}
	if c.Client.ResponseSerializer == "" {
		c.Client.ResponseSerializer = SerializerJSON
	}
	if c.Client.TLS.ValidatesDomainName == nil {
		validates := true
		c.Client.TLS.ValidatesDomainName = &validates
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendDisk
	}
	if c.Cache.Folder == "" {
		c.Cache.Folder = "./cache"
	}
	if c.Download.Folder == "" {
		c.Download.Folder = "./downloads"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// GetTimeout parses and returns the request timeout
func (c *Config) GetTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Client.Timeout)
}

// GetLogLevel parses and returns the log level
func (c *Config) GetLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.Log.Level)
}

// ValidatesDomainName reports whether TLS hostname verification is on
func (c *Config) ValidatesDomainName() bool {
	return c.Client.TLS.ValidatesDomainName == nil || *c.Client.TLS.ValidatesDomainName
}

// Validate validates the configuration
func (c *Config) Validate() error {
	timeout, err := c.GetTimeout()
	if err != nil {
		return fmt.Errorf("invalid client timeout format: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("client timeout must be positive, got: %s", c.Client.Timeout)
	}

	switch c.Client.RequestSerializer {
	case SerializerHTTP, SerializerJSON:
	default:
		return fmt.Errorf("request serializer must be 'http' or 'json', got: %s", c.Client.RequestSerializer)
	}

	switch c.Client.ResponseSerializer {
	case SerializerHTTP, SerializerJSON:
	default:
		return fmt.Errorf("response serializer must be 'http' or 'json', got: %s", c.Client.ResponseSerializer)
	}

	switch c.Cache.Backend {
	case BackendDisk:
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("cache backend must be 'disk' or 'memory', got: %s", c.Cache.Backend)
	}

	if _, err := c.GetLogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Client.TLS.CertFile != "" {
		if _, err := os.Stat(c.Client.TLS.CertFile); err != nil {
			return fmt.Errorf("tls cert file: %w", err)
		}
	}

	return nil
}
