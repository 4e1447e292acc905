package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a file, or from config.yaml inside a directory.
// Files listed under include are layered on top in order, relative to the file
// that names them.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg := Defaults()
	visited := map[string]bool{absPath: true}
	if err := loadConfigFile(absPath, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes a single YAML document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := decodeInto(data, cfg); err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $BLAZEHOOKS_CONFIG, ~/.config/blazehooks, /etc/blazehooks, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("BLAZEHOOKS_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "blazehooks")
		if _, err := os.Stat(filepath.Join(userConfigDir, "config.yaml")); err == nil {
			return userConfigDir, nil
		}
	}

	if _, err := os.Stat("/etc/blazehooks/config.yaml"); err == nil {
		return "/etc/blazehooks", nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $BLAZEHOOKS_CONFIG, ~/.config/blazehooks, /etc/blazehooks, ./config.yaml)")
}

func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		// Nested includes are read from the included file only.
		cfg.Include = nil
		if err := loadConfigFile(absPath, cfg); err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		if len(cfg.Include) > 0 {
			if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	cfg.Include = includes
	return nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return decodeInto(data, cfg)
}

// decodeInto overlays YAML onto cfg; keys absent from data keep their values.
func decodeInto(data []byte, cfg *Config) error {
	interpolated := interpolateEnv(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyConfigDefaults replaces explicit zero values that would break the service.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	d := &cfg.Delivery
	if d.Workers == 0 {
		d.Workers = defaults.Delivery.Workers
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = defaults.Delivery.MaxAttempts
	}
	if d.BackoffBase == 0 {
		d.BackoffBase = defaults.Delivery.BackoffBase
	}
	if d.BackoffMax == 0 {
		d.BackoffMax = defaults.Delivery.BackoffMax
	}
	if d.Timeout == 0 {
		d.Timeout = defaults.Delivery.Timeout
	}
	if d.PollInterval == 0 {
		d.PollInterval = defaults.Delivery.PollInterval
	}
	if d.ResponseBodyLimit == 0 {
		d.ResponseBodyLimit = defaults.Delivery.ResponseBodyLimit
	}
	if d.UserAgent == "" {
		d.UserAgent = defaults.Delivery.UserAgent
	}

	if cfg.AutoDisable.Window == 0 {
		cfg.AutoDisable.Window = defaults.AutoDisable.Window
	}
	if cfg.AutoDisable.MinSamples == 0 {
		cfg.AutoDisable.MinSamples = defaults.AutoDisable.MinSamples
	}
	if cfg.Broadcast.Channel == "" {
		cfg.Broadcast.Channel = defaults.Broadcast.Channel
	}
	if cfg.Retention.AttemptLog == 0 {
		cfg.Retention.AttemptLog = defaults.Retention.AttemptLog
	}
	if cfg.Retention.PruneInterval == 0 {
		cfg.Retention.PruneInterval = defaults.Retention.PruneInterval
	}
	if cfg.Receiver.Path == "" {
		cfg.Receiver.Path = defaults.Receiver.Path
	}
	if cfg.Receiver.Tolerance == 0 {
		cfg.Receiver.Tolerance = defaults.Receiver.Tolerance
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables
// keep their placeholder so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// unresolvedEnv returns the first ${VAR} name still present in s.
func unresolvedEnv(s string) (string, bool) {
	matches := envVarPattern.FindStringSubmatch(s)
	if len(matches) > 1 {
		return matches[1], true
	}
	return "", false
}
