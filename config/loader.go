package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names a config file's serialization.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Loader loads a BenchConfig from a file, an io.Reader, or by searching
// a list of directories, and applies environment variable overrides
// afterward. It mirrors the loader/merge/env-override shape used by the
// service config packages in the example pack, adapted to the smaller,
// flatter BenchConfig this repository needs.
type Loader struct {
	searchPaths   []string
	envPrefix     string
	defaultConfig *BenchConfig
}

// NewLoader creates a Loader with the default search paths and the
// QUANTA_ environment variable prefix.
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{".", "./bench", "./benches"},
		envPrefix:   "QUANTA",
	}
}

// SetSearchPaths overrides the directories AutoLoad searches.
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix overrides the environment variable prefix.
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig overrides the base configuration merged under a
// loaded file's values.
func (l *Loader) SetDefaultConfig(c *BenchConfig) *Loader {
	l.defaultConfig = c
	return l
}

func (l *Loader) base() *BenchConfig {
	if l.defaultConfig != nil {
		d := *l.defaultConfig
		return &d
	}
	return DefaultBenchConfig()
}

// LoadFromFile loads and validates a BenchConfig from filename, merging
// it over the default configuration and applying environment overrides.
func (l *Loader) LoadFromFile(filename string) (*BenchConfig, error) {
	format, err := formatFromExt(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	return l.finish(data, format)
}

// LoadFromReader loads a BenchConfig from an already-open reader in the
// given format.
func (l *Loader) LoadFromReader(r io.Reader, format Format) (*BenchConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	return l.finish(data, format)
}

// AutoLoad searches the loader's search paths for a bench file and loads
// it, falling back to the default configuration (with environment
// overrides still applied) if none is found.
func (l *Loader) AutoLoad() (*BenchConfig, error) {
	path, format, err := l.find()
	if err != nil {
		if err == ErrConfigFileNotFound {
			cfg := l.base()
			l.applyEnv(cfg)
			if verr := cfg.Validate(); verr != nil {
				return nil, verr
			}
			return cfg, nil
		}
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	return l.finish(data, format)
}

func (l *Loader) finish(data []byte, format Format) (*BenchConfig, error) {
	loaded, err := parse(data, format)
	if err != nil {
		return nil, err
	}

	merged := l.merge(l.base(), loaded)
	l.applyEnv(merged)

	if err := merged.Validate(); err != nil {
		return nil, err
	}

	return merged, nil
}

func (l *Loader) find() (string, Format, error) {
	candidates := []string{
		"bench.yaml", "bench.yml", "bench.json",
		"quanta.yaml", "quanta.yml", "quanta.json",
	}

	for _, dir := range l.searchPaths {
		for _, name := range candidates {
			full := filepath.Join(dir, name)
			if _, err := os.Stat(full); err == nil {
				format, err := formatFromExt(full)
				if err != nil {
					continue
				}
				return full, format, nil
			}
		}
	}

	return "", "", ErrConfigFileNotFound
}

func formatFromExt(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("config: unsupported file extension for %s", filename)
	}
}

func parse(data []byte, format Format) (*BenchConfig, error) {
	cfg := &BenchConfig{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q", format)
	}

	return cfg, nil
}

// merge overlays non-zero-valued fields of loaded onto a copy of base.
func (l *Loader) merge(base, loaded *BenchConfig) *BenchConfig {
	merged := *base

	if loaded.Name != "" {
		merged.Name = loaded.Name
	}
	if loaded.Workers != 0 {
		merged.Workers = loaded.Workers
	}
	if loaded.MailboxCap != 0 {
		merged.MailboxCap = loaded.MailboxCap
	}
	if loaded.TimeoutMillis != 0 {
		merged.TimeoutMillis = loaded.TimeoutMillis
	}
	if loaded.MaxSameInstant != 0 {
		merged.MaxSameInstant = loaded.MaxSameInstant
	}
	merged.DistributedIDs = loaded.DistributedIDs || base.DistributedIDs

	if loaded.Trace.Format != "" {
		merged.Trace.Format = loaded.Trace.Format
	}
	if loaded.Trace.Path != "" {
		merged.Trace.Path = loaded.Trace.Path
	}

	if loaded.Log.Level != "" {
		merged.Log.Level = loaded.Log.Level
	}
	merged.Log.Pretty = loaded.Log.Pretty || base.Log.Pretty

	if loaded.Custom != nil {
		merged.Custom = make(map[string]interface{}, len(loaded.Custom))
		for k, v := range loaded.Custom {
			merged.Custom[k] = v
		}
	}

	return &merged
}

// applyEnv overrides fields of cfg from QUANTA_* environment variables
// (or whatever prefix was configured).
func (l *Loader) applyEnv(cfg *BenchConfig) {
	if v := os.Getenv(l.envPrefix + "_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}

	if v := os.Getenv(l.envPrefix + "_MAILBOX_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MailboxCap = n
		}
	}

	if v := os.Getenv(l.envPrefix + "_TIMEOUT_MILLIS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TimeoutMillis = n
		}
	}

	if v := os.Getenv(l.envPrefix + "_TRACE_FORMAT"); v != "" {
		cfg.Trace.Format = TraceFormat(v)
	}

	if v := os.Getenv(l.envPrefix + "_TRACE_PATH"); v != "" {
		cfg.Trace.Path = v
	}

	if v := os.Getenv(l.envPrefix + "_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv(l.envPrefix + "_DISTRIBUTED_IDS"); v != "" {
		cfg.DistributedIDs = strings.ToLower(v) == "true"
	}
}
