// Package config resolves Keeper settings from three layers: the YAML
// config file, KEEPER_* environment variables, and CLI flags. Later
// layers win, and every resolved value remembers where it came from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a setting plus the layer that supplied it.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI-flag layer into resolution.
type ResolveOptions struct {
	ConfigPath string
	CLIOracle  string
	CLIEmbed   string
	CLIDBPath  string
}

// ResolvedConfig is the merged view of all three layers.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath ResolvedValue `json:"db_path"`

	OracleProvider ResolvedValue `json:"oracle_provider"`
	OracleEndpoint ResolvedValue `json:"oracle_endpoint"`
	OracleAPIKey   ResolvedValue `json:"oracle_api_key"`

	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	Oracle struct {
		Provider string `yaml:"provider"`
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"oracle"`
	Embed struct {
		Provider string `yaml:"provider"`
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"embed"`
}

// DefaultConfigPath returns ~/.keeper/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keeper", "config.yaml")
}

// ResolveConfig merges the config file, environment, and CLI flags.
// A missing config file is not an error; a malformed one is.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.OracleProvider, cfg.Oracle.Provider, SourceConfig, path)
		apply(&out.OracleEndpoint, cfg.Oracle.Endpoint, SourceConfig, path)
		apply(&out.OracleAPIKey, cfg.Oracle.APIKey, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.EmbedAPIKey, cfg.Embed.APIKey, SourceConfig, path)
	}

	applyEnv(&out.DBPath, "KEEPER_DB")
	applyEnv(&out.DBPath, "KEEPER_DB_PATH")

	applyEnv(&out.OracleProvider, "KEEPER_ORACLE")
	applyEnv(&out.OracleEndpoint, "KEEPER_ORACLE_ENDPOINT")
	applyEnv(&out.OracleAPIKey, "KEEPER_ORACLE_API_KEY")

	applyEnv(&out.EmbedProvider, "KEEPER_EMBED")
	applyEnv(&out.EmbedEndpoint, "KEEPER_EMBED_ENDPOINT")
	applyEnv(&out.EmbedAPIKey, "KEEPER_EMBED_API_KEY")

	apply(&out.OracleProvider, opts.CLIOracle, SourceCLI, "--oracle")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	return out, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
