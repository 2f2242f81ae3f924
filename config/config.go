// Package config loads the portal's single YAML configuration source
// (§6.4): listeners, interface addresses, and TLS certificate bundles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Dir returns the portal configuration directory. Respects
// XDG_CONFIG_HOME on Unix, APPDATA on Windows.
func Dir() string {
	var base string

	if runtime.GOOS == "windows" {
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	} else {
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(base, "portal")
}

// DefaultFile returns the default config file path, used when -config is
// not given on the command line.
func DefaultFile() string {
	return filepath.Join(Dir(), "portal.yaml")
}

// Listener describes one bound socket (§6.4): the interface it binds to,
// its port, an optional TLS bundle name for opportunistic TLS upgrade,
// and a wire-protocol tag (per SPEC_FULL's supplemented per-listener
// protocol tag — only "telnet" exists today, but the schema carries the
// field so a second wire variant would not be a config format break).
type Listener struct {
	Interface string `yaml:"interface"`
	Port      int    `yaml:"port"`
	TLSName   string `yaml:"tls,omitempty"`
	Protocol  string `yaml:"protocol"`
}

// TLSBundle is a PEM certificate and key pair, keyed by name.
type TLSBundle struct {
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
}

// Config is the top-level configuration document (§6.4).
type Config struct {
	Listeners    map[string]Listener  `yaml:"listeners"`
	Interfaces   map[string]string    `yaml:"interfaces"`
	TLS          map[string]TLSBundle `yaml:"tls"`
	Upstream     UpstreamConfig       `yaml:"upstream"`
	CommandsFile string               `yaml:"commands_file,omitempty"`
	AdminAddr    string               `yaml:"admin_addr,omitempty"`
}

// UpstreamConfig describes the single WebSocket link to the backend (C7).
type UpstreamConfig struct {
	URL string `yaml:"url"`
}

// Load reads and parses the YAML config at path, applying defaults first
// so a minimal file only needs to override what it cares about. Errors
// in loading are fatal to startup (§6.4).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{
		Listeners: map[string]Listener{
			"default": {Interface: "any", Port: 4000, Protocol: "telnet"},
		},
		Interfaces: map[string]string{
			"any": "0.0.0.0",
		},
		TLS: map[string]TLSBundle{},
		Upstream: UpstreamConfig{
			URL: "ws://127.0.0.1:4001/portal",
		},
		AdminAddr: "127.0.0.1:7778",
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for name, l := range cfg.Listeners {
		if _, ok := cfg.Interfaces[l.Interface]; !ok {
			return nil, fmt.Errorf("listener %q: unknown interface %q", name, l.Interface)
		}
		if l.TLSName != "" {
			if _, ok := cfg.TLS[l.TLSName]; !ok {
				return nil, fmt.Errorf("listener %q: unknown tls bundle %q", name, l.TLSName)
			}
		}
	}

	return cfg, nil
}
