// Package config loads the network descriptor (spec.md §6) from YAML
// and applies environment-variable overrides, in the teacher's own
// env-first configuration idiom (internal/config's original
// getEnv/getEnvAsInt/getEnvAsBool helpers, kept verbatim below).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// TransportConfig describes one transport entry in a network
// descriptor's transports[] list.
type TransportConfig struct {
	Type       string `yaml:"type"` // "grpc", "http", "a2a"
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token,omitempty"`
}

// ModConfig describes one mod entry in a network descriptor's mods[]
// list; order in the YAML list is the Mod Pipeline's run order.
type ModConfig struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options,omitempty"`
}

// ObservabilityConfig mirrors the teacher's observability.Config
// shape, generalized from a single broker service name to whatever
// name the network descriptor declares.
type ObservabilityConfig struct {
	ServiceVersion string `yaml:"service_version"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	PrometheusPort string `yaml:"prometheus_port"`
	Environment    string `yaml:"environment"`
	LogLevel       string `yaml:"log_level"`
}

// NetworkDescriptor is the top-level network configuration document
// (spec.md §6): name, mode, host, the ordered transport and mod
// lists, and the workspace persistence root.
type NetworkDescriptor struct {
	Name          string              `yaml:"name"`
	Mode          string              `yaml:"mode"`
	Host          string              `yaml:"host"`
	Workspace     string              `yaml:"workspace"`
	Transports    []TransportConfig   `yaml:"transports"`
	Mods          []ModConfig         `yaml:"mods"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads and parses a network descriptor from path, then applies
// environment overrides (OPENAGENTS_WORKSPACE per spec.md §6, plus
// the observability env vars the teacher's AppConfig exposed).
func Load(path string) (*NetworkDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var d NetworkDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	d.applyEnvOverrides()
	return &d, nil
}

func (d *NetworkDescriptor) applyEnvOverrides() {
	d.Workspace = getEnv("OPENAGENTS_WORKSPACE", d.Workspace)
	d.Observability.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", d.Observability.JaegerEndpoint)
	d.Observability.PrometheusPort = getEnv("PROMETHEUS_PORT", d.Observability.PrometheusPort)
	d.Observability.Environment = getEnv("ENVIRONMENT", d.Observability.Environment)
	d.Observability.LogLevel = getEnv("LOG_LEVEL", d.Observability.LogLevel)
}

// Validate checks the invariants a network descriptor must satisfy
// before the Network façade can start from it.
func (d *NetworkDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("config: name is required")
	}
	if d.Workspace == "" {
		return fmt.Errorf("config: workspace is required")
	}
	if len(d.Transports) == 0 {
		return fmt.Errorf("config: at least one transport is required")
	}
	seen := make(map[string]struct{}, len(d.Transports))
	for _, tr := range d.Transports {
		switch tr.Type {
		case "grpc", "http", "a2a":
		default:
			return fmt.Errorf("config: unknown transport type %q", tr.Type)
		}
		if _, dup := seen[tr.Type]; dup {
			return fmt.Errorf("config: duplicate transport type %q", tr.Type)
		}
		seen[tr.Type] = struct{}{}
		if tr.ListenAddr == "" {
			return fmt.Errorf("config: transport %q requires listen_addr", tr.Type)
		}
	}
	return nil
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as boolean with a default fallback.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
