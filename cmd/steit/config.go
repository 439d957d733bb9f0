package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the node configuration; a YAML file fills it and flags
// override single values.
type Config struct {
	Dir           string   `yaml:"dir"`
	Type          string   `yaml:"type"`
	Listen        []string `yaml:"listen"`
	Connect       []string `yaml:"connect"`
	Metrics       string   `yaml:"metrics"`
	SnapshotEvery int      `yaml:"snapshot_every"`
	Sync          bool     `yaml:"sync"`
	LogLevel      string   `yaml:"log_level"`

	TLS struct {
		CertFile   string `yaml:"cert_file"`
		KeyFile    string `yaml:"key_file"`
		CAFile     string `yaml:"ca_file"`
		ServerName string `yaml:"server_name"`
	} `yaml:"tls"`
}

func DefaultConfig() *Config {
	return &Config{
		Type:     "outer",
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML file over the defaults; an empty path yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) Level() (level slog.Level, err error) {
	err = level.UnmarshalText([]byte(c.LogLevel))
	return
}

// TLSConfig is nil unless a certificate is configured. The same config
// serves both sides, so peers authenticate each other.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.TLS.CertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	conf := &tls.Config{
		ServerName:   c.TLS.ServerName,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca cert %q: %w", c.TLS.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse %q", c.TLS.CAFile)
		}
		conf.RootCAs = pool
		conf.ClientCAs = pool
		conf.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return conf, nil
}
