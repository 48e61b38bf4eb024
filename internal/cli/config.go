package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/tokenscan/pkg/labelscan"
	"github.com/calvinalkan/tokenscan/pkg/pagecache"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	StorePath  string           `json:"store_path"`
	FailureDir string           `json:"failure_dir"`
	LogLevel   string           `json:"log_level,omitempty"`
	RangeSize  int              `json:"range_size,omitempty"`
	PageCache  pagecache.Config `json:"page_cache"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd  string `json:"-"`
	StorePathAbs  string `json:"-"`
	FailureDirAbs string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources ConfigSources `json:"-"`
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		StorePath:  filepath.Join(".tokenscan", "labels.tks"),
		FailureDir: filepath.Join(".tokenscan", "indexes"),
		LogLevel:   "warn",
		RangeSize:  labelscan.DefaultRangeSize,
		PageCache:  pagecache.DefaultConfig(),
	}
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".tokenscan.json"

// getGlobalConfigPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/tokenscan/config.json if set, otherwise
// ~/.config/tokenscan/config.json. Returns empty string if neither is known.
func getGlobalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "tokenscan", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "tokenscan", "config.json")
	}

	return ""
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDirOverride   string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath        string            // -c/--config flag value
	StorePathOverride string            // --store flag value; empty means no override
	HasStoreOverride  bool              // --store was given, even if empty
	LogLevelOverride  string            // --log-level flag value
	Env               map[string]string // environment variables
}

// LoadConfig loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/tokenscan/config.json)
// 3. Project config file at default location (.tokenscan.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. CLI overrides.
//
// All paths in the returned Config are resolved to absolute paths.
func LoadConfig(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	globalCfg, globalPath, err := loadGlobalConfig(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if input.HasStoreOverride {
		if input.StorePathOverride == "" {
			return Config{}, ErrStorePathEmpty
		}

		cfg.StorePath = input.StorePathOverride
	}

	if input.LogLevelOverride != "" {
		cfg.LogLevel = input.LogLevelOverride
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.StorePathAbs = absFrom(workDir, cfg.StorePath)
	cfg.FailureDirAbs = absFrom(workDir, cfg.FailureDir)

	return cfg, nil
}

func absFrom(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

// loadGlobalConfig loads the global user config file if it exists.
func loadGlobalConfig(env map[string]string) (Config, string, error) {
	globalCfgPath := getGlobalConfigPath(env)
	if globalCfgPath == "" {
		return Config{}, "", nil
	}

	globalCfg, loaded, err := loadConfigFile(globalCfgPath, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return globalCfg, globalCfgPath, nil
}

// loadProjectConfig loads the project config file or an explicit config file.
func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var (
		cfgFile   string
		mustExist bool
	)

	if configPath != "" {
		cfgFile = absFrom(workDir, configPath)
		mustExist = true

		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
	}

	fileCfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return fileCfg, cfgFile, nil
}

// loadConfigFile loads a config file. If mustExist is false, missing files
// return a zero config.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, parseErr := parseConfig(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// An explicit "" is an error, not "keep the default".
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["store_path"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, ErrStorePathEmpty
		}
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.StorePath != "" {
		base.StorePath = overlay.StorePath
	}

	if overlay.FailureDir != "" {
		base.FailureDir = overlay.FailureDir
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.RangeSize != 0 {
		base.RangeSize = overlay.RangeSize
	}

	if overlay.PageCache.Memory != "" {
		base.PageCache.Memory = overlay.PageCache.Memory
	}

	if overlay.PageCache.PageSize != 0 {
		base.PageCache.PageSize = overlay.PageCache.PageSize
	}

	if overlay.PageCache.MaxCursors != 0 {
		base.PageCache.MaxCursors = overlay.PageCache.MaxCursors
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.StorePath == "" {
		return ErrStorePathEmpty
	}

	if cfg.RangeSize <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidRangeSize, cfg.RangeSize)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.LogLevel)
	}

	if _, err := cfg.PageCache.MaxPages(); err != nil {
		return err
	}

	return nil
}

// FormatConfig returns the config as formatted JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}
