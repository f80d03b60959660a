// Package config provides configuration types, loading and validation for hydranamed.
//
// The configuration is a YAML document with options, logging, api, keys, tkey, zones
// and views sections. Zones declared at top level belong to the "_default" view.
// Every directive has a documented default that applies when it is absent; absence
// never preserves a value from a previous configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrParse marks a malformed configuration.
var ErrParse = errors.New("configuration parse error")

// FileLoader reads configuration files from disk.
type FileLoader struct{}

// Load implements the server's configuration loader contract.
func (FileLoader) Load(path string) (*Config, error) {
	return Load(path)
}

// ResolveConfigPath returns the flag value, or HYDRANAMED_CONFIG when the flag is empty.
func ResolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv("HYDRANAMED_CONFIG"))
}

// Load reads and validates the configuration at path. An empty path yields the
// built-in defaults (a caching-only server).
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrParse, path, err)
		}
		parsed, err := Parse(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cfg = parsed
		cfg.Path = path
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("HYDRANAMED_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Options.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("HYDRANAMED_DIRECTORY")); v != "" {
		cfg.Options.Directory = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates and normalizes the configuration.
func (cfg *Config) Validate() error {
	if cfg.Options.Port == 0 {
		cfg.Options.Port = DefaultPort
	}
	if cfg.Options.Port < 0 || cfg.Options.Port > 65535 {
		return fmt.Errorf("%w: options.port must be 1..65535", ErrParse)
	}
	for i, l := range cfg.Options.ListenOn {
		if l.Port < 0 || l.Port > 65535 {
			return fmt.Errorf("%w: options.listen_on[%d].port must be 0..65535", ErrParse, i)
		}
	}

	switch strings.ToLower(cfg.Options.TransferFormat) {
	case "", "one-answer", "many-answers":
	default:
		return fmt.Errorf("%w: options.transfer_format %q", ErrParse, cfg.Options.TransferFormat)
	}
	if cfg.Options.ResolverTasks < 0 {
		return fmt.Errorf("%w: options.resolver_tasks must not be negative", ErrParse)
	}

	for i, v := range cfg.Views {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("%w: views[%d] has no name", ErrParse, i)
		}
	}

	// Normalize logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	// Normalize management API
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return fmt.Errorf("%w: api.port must be 1..65535", ErrParse)
		}
	}
	return nil
}

// ZoneStatements yields every zone statement in declaration order: top-level zones
// first, then the zones of each view.
func (cfg *Config) ZoneStatements() iter.Seq[ZoneStatement] {
	return func(yield func(ZoneStatement) bool) {
		for i := range cfg.Zones {
			if !yield(ZoneStatement{Zone: &cfg.Zones[i]}) {
				return
			}
		}
		for i := range cfg.Views {
			v := &cfg.Views[i]
			for j := range v.Zones {
				if !yield(ZoneStatement{View: v, Zone: &v.Zones[j]}) {
					return
				}
			}
		}
	}
}

// Recursion reports whether recursion is enabled (default true).
func (cfg *Config) Recursion() bool {
	if cfg.Options.Recursion == nil {
		return true
	}
	return *cfg.Options.Recursion
}

// AuthNXDomain reports whether NXDOMAIN answers are flagged authoritative (default false).
func (cfg *Config) AuthNXDomain() bool {
	return cfg.Options.AuthNXDomain != nil && *cfg.Options.AuthNXDomain
}

// TransferFormat returns "one-answer" or "many-answers".
func (cfg *Config) TransferFormat() string {
	if cfg.Options.TransferFormat == "" {
		return DefaultTransferFormat
	}
	return strings.ToLower(cfg.Options.TransferFormat)
}

// QueryACL returns the allow-query elements, nil when absent.
func (cfg *Config) QueryACL() []string { return cfg.Options.AllowQuery }

// RecursionACL returns the allow-recursion elements, nil when absent.
func (cfg *Config) RecursionACL() []string { return cfg.Options.AllowRecursion }

// TransferACL returns the allow-transfer elements, nil when absent.
func (cfg *Config) TransferACL() []string { return cfg.Options.AllowTransfer }

// TransfersOut returns the configured value and whether it was set.
func (cfg *Config) TransfersOut() (int, bool) { return intOption(cfg.Options.TransfersOut) }

// TCPClients returns the configured value and whether it was set.
func (cfg *Config) TCPClients() (int, bool) { return intOption(cfg.Options.TCPClients) }

// RecursiveClients returns the configured value and whether it was set.
func (cfg *Config) RecursiveClients() (int, bool) { return intOption(cfg.Options.RecursiveClients) }

func intOption(p *int) (int, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Port returns the default listening port.
func (cfg *Config) Port() int {
	if cfg.Options.Port == 0 {
		return DefaultPort
	}
	return cfg.Options.Port
}

// ListenOn returns the listen-on list. When absent a single wildcard element on
// the default port is returned.
func (cfg *Config) ListenOn() []ListenConfig {
	if len(cfg.Options.ListenOn) == 0 {
		return []ListenConfig{{Port: cfg.Port()}}
	}
	out := make([]ListenConfig, 0, len(cfg.Options.ListenOn))
	for _, l := range cfg.Options.ListenOn {
		if l.Port == 0 {
			l.Port = cfg.Port()
		}
		out = append(out, l)
	}
	return out
}

// Directory returns the working directory for relative file names.
func (cfg *Config) Directory() string { return cfg.Options.Directory }

// VersionText returns the configured version string; ok is false when absent.
func (cfg *Config) VersionText() (text string, ok bool) {
	if cfg.Options.Version == nil {
		return "", false
	}
	return *cfg.Options.Version, true
}

// CleaningInterval returns the cache cleaning interval in seconds.
func (cfg *Config) CleaningInterval() int {
	if cfg.Options.CleaningInterval == nil {
		return DefaultCleaningInterval
	}
	return *cfg.Options.CleaningInterval
}

// CacheFile returns the cache snapshot path, empty when none is configured.
func (cfg *Config) CacheFile() string { return cfg.Options.CacheFile }

// ResolverTasks returns the number of resolver worker tasks per view.
func (cfg *Config) ResolverTasks() int {
	if cfg.Options.ResolverTasks <= 0 {
		return DefaultResolverTasks
	}
	return cfg.Options.ResolverTasks
}

// Forwarders returns the upstream servers used for recursion, nil when the
// server resolves from its cache only.
func (cfg *Config) Forwarders() []string { return cfg.Options.Forwarders }

// FindViews returns the view statements with the given name, one per class.
func (cfg *Config) FindViews(name string) []*ViewConfig {
	var out []*ViewConfig
	for i := range cfg.Views {
		if cfg.Views[i].Name == name {
			out = append(out, &cfg.Views[i])
		}
	}
	return out
}
