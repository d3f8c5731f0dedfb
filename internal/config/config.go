// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package config defines the harness's configuration surface: the
// provider selection, per-provider fields, model defaults, numeric
// limits, and feature flags (spec §6). Loading follows the teacher's
// config_loader.go pattern: YAML first, then ${VAR}/$VAR environment
// expansion for secrets, then default/bounds validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderID identifies a supported provider variant.
type ProviderID string

const (
	ProviderOllama   ProviderID = "ollama"
	ProviderLMStudio ProviderID = "lmstudio"
)

var validProviders = map[ProviderID]bool{
	ProviderOllama:   true,
	ProviderLMStudio: true,
}

// FieldDescriptor describes one provider-specific configuration field
// for a settings UI (spec §3 Provider capabilities "config field
// descriptors").
type FieldDescriptor struct {
	Key     string `yaml:"key"`
	Label   string `yaml:"label"`
	Type    string `yaml:"type"` // text | toggle | number
	Help    string `yaml:"help"`
	Default string `yaml:"default"`
}

// ProviderConfig holds one provider's connection and defaults.
type ProviderConfig struct {
	Endpoint    string `yaml:"endpoint"`
	APIKeyEnv   string `yaml:"api_key_env"` // env var name; never store the key itself in YAML
	DefaultPort int    `yaml:"default_port"`
}

// Limits bounds loop iteration counts and context sizing (spec §4.4,
// §4.7, §4.8).
type Limits struct {
	MaxContext    int `yaml:"max_context"`
	MaxIterations int `yaml:"max_iterations"`
	MaxToolDepth  int `yaml:"max_tool_depth"`
}

// Features toggles ambient behavior.
type Features struct {
	EnableThinking bool `yaml:"enable_thinking"`
	AgentDirWatch  bool `yaml:"agent_dir_watch"`
}

// Config is the full harness configuration.
type Config struct {
	Provider    ProviderID                `yaml:"provider"`
	Model       string                    `yaml:"model"`
	Temperature float64                   `yaml:"temperature"`
	Providers   map[ProviderID]ProviderConfig `yaml:"providers"`
	Limits      Limits                    `yaml:"limits"`
	Features    Features                  `yaml:"features"`
	AgentsDir   string                    `yaml:"agents_dir"`
}

func defaults() Config {
	return Config{
		Provider:    ProviderOllama,
		Model:       "llama3.1",
		Temperature: 0.7,
		Providers: map[ProviderID]ProviderConfig{
			ProviderOllama:   {Endpoint: "http://localhost:11434", DefaultPort: 11434},
			ProviderLMStudio: {Endpoint: "http://localhost:1234", DefaultPort: 1234},
		},
		Limits: Limits{
			MaxContext:    8192,
			MaxIterations: 25,
			MaxToolDepth:  10,
		},
		Features: Features{
			EnableThinking: true,
			AgentDirWatch:  true,
		},
	}
}

// expandEnvVars mirrors the teacher's expandEnvVars: replaces ${VAR}
// or $VAR with the environment value, for secrets that must never live
// in the YAML file itself.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

// Load reads path and merges it over the built-in defaults. Provider,
// model, a non-zero temperature, agents_dir and positive limits replace
// their defaults only when set; a features block is taken as a whole,
// so a file without one turns every feature flag off. ${VAR}/$VAR
// references are expanded only in the endpoint of a provider that sets
// api_key_env.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil, nil
		}
		return Config{}, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Config{}, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	merge(&cfg, loaded)

	for id, pc := range cfg.Providers {
		if pc.APIKeyEnv != "" {
			pc.Endpoint = expandEnvVars(pc.Endpoint)
			cfg.Providers[id] = pc
		}
	}

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func merge(base *Config, loaded Config) {
	if loaded.Provider != "" {
		base.Provider = loaded.Provider
	}
	if loaded.Model != "" {
		base.Model = loaded.Model
	}
	if loaded.Temperature != 0 {
		base.Temperature = loaded.Temperature
	}
	for id, pc := range loaded.Providers {
		if base.Providers == nil {
			base.Providers = make(map[ProviderID]ProviderConfig)
		}
		base.Providers[id] = pc
	}
	if loaded.Limits.MaxContext > 0 {
		base.Limits.MaxContext = loaded.Limits.MaxContext
	}
	if loaded.Limits.MaxIterations > 0 {
		base.Limits.MaxIterations = loaded.Limits.MaxIterations
	}
	if loaded.Limits.MaxToolDepth > 0 {
		base.Limits.MaxToolDepth = loaded.Limits.MaxToolDepth
	}
	base.Features = loaded.Features
	if loaded.AgentsDir != "" {
		base.AgentsDir = loaded.AgentsDir
	}
}

// validate checks required fields and numeric bounds, grounded on the
// teacher's ValidateAgentConfig, and returns non-fatal configuration
// warnings (spec §3 Provider capabilities "a list of configuration
// warnings") rather than failing startup for recoverable issues.
func validate(cfg *Config) []string {
	var warnings []string

	if !validProviders[cfg.Provider] {
		warnings = append(warnings, fmt.Sprintf("unknown provider %q, falling back to ollama", cfg.Provider))
		cfg.Provider = ProviderOllama
	}
	if strings.TrimSpace(cfg.Model) == "" {
		warnings = append(warnings, "no model configured; requests will fail until one is set")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		warnings = append(warnings, fmt.Sprintf("temperature %.2f out of range [0,2], clamped", cfg.Temperature))
		cfg.Temperature = clamp(cfg.Temperature, 0, 2)
	}
	if cfg.Limits.MaxContext <= 0 {
		warnings = append(warnings, "max_context must be positive, using default 8192")
		cfg.Limits.MaxContext = 8192
	}
	if cfg.Limits.MaxIterations <= 0 {
		warnings = append(warnings, "max_iterations must be positive, using default 25")
		cfg.Limits.MaxIterations = 25
	}
	if cfg.Limits.MaxToolDepth <= 0 {
		warnings = append(warnings, "max_tool_depth must be positive, using default 10")
		cfg.Limits.MaxToolDepth = 10
	}
	if _, ok := cfg.Providers[cfg.Provider]; !ok {
		warnings = append(warnings, fmt.Sprintf("no connection settings for provider %q, using built-in default", cfg.Provider))
	}

	return warnings
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
