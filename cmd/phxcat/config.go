package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	phx "github.com/go-phx-channels/phxclient"
)

type fileConfig struct {
	URL          string   `toml:"url" yaml:"url"`
	Params       []string `toml:"params" yaml:"params"`
	Topics       []string `toml:"topics" yaml:"topics"`
	Heartbeat    string   `toml:"heartbeat" yaml:"heartbeat"`
	WriteTimeout string   `toml:"write_timeout" yaml:"write_timeout"`
	LogLevel     string   `toml:"log_level" yaml:"log_level"`
	MetricsAddr  string   `toml:"metrics_addr" yaml:"metrics_addr"`
}

type config struct {
	URL               string
	Params            []phx.Param
	Topics            []string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	LogLevel          zerolog.Level
	MetricsAddr       string
}

func defaultConfig() config {
	return config{
		URL:               "ws://localhost:4000/socket",
		HeartbeatInterval: phx.DefaultHeartbeatInterval,
		LogLevel:          zerolog.InfoLevel,
	}
}

// loadConfig reads a TOML or YAML file, chosen by extension, over the defaults
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	defined := func(string) bool { return true }

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }

	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
		var keys map[string]any
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return config{}, fmt.Errorf("load config: %w", err)
		}
		defined = func(key string) bool {
			_, ok := keys[key]
			return ok
		}

	default:
		return config{}, fmt.Errorf("load config: unsupported config format %q", filepath.Ext(path))
	}

	if err := cfg.apply(raw, defined); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) apply(raw fileConfig, defined func(string) bool) error {
	if defined("url") {
		if u := strings.TrimSpace(raw.URL); u != "" {
			c.URL = u
		}
	}

	if defined("params") {
		params, err := parseParams(raw.Params)
		if err != nil {
			return err
		}
		c.Params = params
	}

	if defined("topics") {
		c.Topics = normalizeTopics(raw.Topics)
	}

	if defined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return fmt.Errorf("parse heartbeat: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("heartbeat must be positive, got %s", d)
		}
		c.HeartbeatInterval = d
	}

	if defined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return fmt.Errorf("parse write_timeout: %w", err)
		}
		c.WriteTimeout = d
	}

	if defined("log_level") {
		lvl, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		c.LogLevel = lvl
	}

	if defined("metrics_addr") {
		c.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	return nil
}

// parseParams turns key=value strings into ordered socket params
func parseParams(in []string) ([]phx.Param, error) {
	out := make([]phx.Param, 0, len(in))
	for _, kv := range in {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("parse param %q: expected key=value", kv)
		}
		out = append(out, phx.Param{Key: key, Value: value})
	}
	return out, nil
}

func normalizeTopics(in []string) []string {
	out := make([]string, 0, len(in))
	for _, topic := range in {
		v := strings.TrimSpace(topic)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
