package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kptv-timeshift/work/logger"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when KPTV_TIMESHIFT_CONFIG is not set.
const DefaultConfigPath = "/settings/config.json"

// Config holds all application configuration values for the timeshift proxy server.
// It covers the listener, the catalog database, upstream relay limits, EPG caching
// and the defaults applied to plugin settings that are missing from the database.
type Config struct {
	ListenAddr          string        `json:"listenAddr"`          // Address the HTTP server binds to (e.g. ":8080")
	BaseURL             string        `json:"baseURL"`             // Public base URL of this service
	DatabasePath        string        `json:"databasePath"`        // Path of the SQLite catalog database
	SeedFile            string        `json:"seedFile"`            // Optional YAML/JSON catalog seed imported at startup
	LogLevel            string        `json:"logLevel"`            // DEBUG, INFO, WARN or ERROR
	LogFormat           string        `json:"logFormat"`           // "json" or "console"
	Debug               bool          `json:"debug"`               // Enable debug logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate provider URLs in logs
	WorkerThreads       int           `json:"workerThreads"`       // Size of the worker pool used for listing builds
	UpstreamTimeout     time.Duration `json:"upstreamTimeout"`     // Connect/read budget for provider requests
	UpstreamRateLimit   int           `json:"upstreamRateLimit"`   // Requests per second allowed per provider account
	MaxConnectionsToApp int           `json:"maxConnectionsToApp"` // Idle connection ceiling for the upstream transport
	EPGCacheDuration    time.Duration `json:"epgCacheDuration"`    // TTL of cached archive listings and XMLTV
	EPGCacheSize        int           `json:"epgCacheSize"`        // Maximum number of cached EPG documents
	XMLTVURL            string        `json:"xmltvURL"`            // XMLTV source re-rendered by /xmltv.php
	DefaultTimezone     string        `json:"defaultTimezone"`     // Provider timezone when the plugin settings carry none
	DefaultLanguage     string        `json:"defaultLanguage"`     // EPG language when the plugin settings carry none
}

// ConfigFile represents the on-disk structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "10s") are parsed into time.Duration values.
type ConfigFile struct {
	ListenAddr          string `json:"listenAddr" yaml:"listenAddr"`
	BaseURL             string `json:"baseURL" yaml:"baseURL"`
	DatabasePath        string `json:"databasePath" yaml:"databasePath"`
	SeedFile            string `json:"seedFile" yaml:"seedFile"`
	LogLevel            string `json:"logLevel" yaml:"logLevel"`
	LogFormat           string `json:"logFormat" yaml:"logFormat"`
	Debug               bool   `json:"debug" yaml:"debug"`
	ObfuscateUrls       bool   `json:"obfuscateUrls" yaml:"obfuscateUrls"`
	WorkerThreads       int    `json:"workerThreads" yaml:"workerThreads"`
	UpstreamTimeout     string `json:"upstreamTimeout" yaml:"upstreamTimeout"` // Duration as string (e.g., "10s")
	UpstreamRateLimit   int    `json:"upstreamRateLimit" yaml:"upstreamRateLimit"`
	MaxConnectionsToApp int    `json:"maxConnectionsToApp" yaml:"maxConnectionsToApp"`
	EPGCacheDuration    string `json:"epgCacheDuration" yaml:"epgCacheDuration"` // Duration as string (e.g., "5m")
	EPGCacheSize        int    `json:"epgCacheSize" yaml:"epgCacheSize"`
	XMLTVURL            string `json:"xmltvURL" yaml:"xmltvURL"`
	DefaultTimezone     string `json:"defaultTimezone" yaml:"defaultTimezone"`
	DefaultLanguage     string `json:"defaultLanguage" yaml:"defaultLanguage"`
}

var (
	configMu    sync.RWMutex
	configCache *Config
)

// LoadConfig returns the process configuration. The file named by
// KPTV_TIMESHIFT_CONFIG (DefaultConfigPath when unset) is read once and cached
// until ClearConfigCache; a missing or invalid file yields the defaults.
func LoadConfig() *Config {
	configMu.RLock()
	if configCache != nil {
		defer configMu.RUnlock()
		return configCache
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("KPTV_TIMESHIFT_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		logger.Warn("{config - LoadConfig} Failed to load config from %s: %v", configPath, err)
		logger.Warn("{config - LoadConfig} Falling back to default configuration...")
		config = getDefaultConfig()
	}

	configCache = config

	if config.Debug {
		logger.Debug("{config - LoadConfig} Configuration loaded:")
		logger.Debug("{config - LoadConfig}   Database: %s", config.DatabasePath)
		logger.Debug("{config - LoadConfig}   XMLTV source configured: %v", config.XMLTVURL != "")
		logger.Debug("{config - LoadConfig}   Upstream timeout: %s, rate: %d req/s", config.UpstreamTimeout, config.UpstreamRateLimit)
	}

	return config
}

// LoadFromFile reads and parses the configuration from a JSON or YAML file and
// applies defaults. YAML is chosen by the .yaml/.yml extension.
func LoadFromFile(path string) (*Config, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	config, err := convertFromFile(&configFile)
	if err != nil {
		return nil, err
	}

	validateAndSetDefaults(config)
	return config, nil
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenAddr:          cf.ListenAddr,
		BaseURL:             cf.BaseURL,
		DatabasePath:        cf.DatabasePath,
		SeedFile:            cf.SeedFile,
		LogLevel:            cf.LogLevel,
		LogFormat:           cf.LogFormat,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
		WorkerThreads:       cf.WorkerThreads,
		UpstreamRateLimit:   cf.UpstreamRateLimit,
		MaxConnectionsToApp: cf.MaxConnectionsToApp,
		EPGCacheSize:        cf.EPGCacheSize,
		XMLTVURL:            cf.XMLTVURL,
		DefaultTimezone:     cf.DefaultTimezone,
		DefaultLanguage:     cf.DefaultLanguage,
	}

	// empty duration strings are left at zero and filled by validateAndSetDefaults
	var err error
	if cf.UpstreamTimeout != "" {
		if config.UpstreamTimeout, err = time.ParseDuration(cf.UpstreamTimeout); err != nil {
			return nil, fmt.Errorf("invalid upstreamTimeout: %w", err)
		}
	}
	if cf.EPGCacheDuration != "" {
		if config.EPGCacheDuration, err = time.ParseDuration(cf.EPGCacheDuration); err != nil {
			return nil, fmt.Errorf("invalid epgCacheDuration: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":8080",
		BaseURL:             "http://localhost:8080",
		DatabasePath:        "/settings/kptv-timeshift.db",
		LogLevel:            "INFO",
		LogFormat:           "json",
		WorkerThreads:       8,
		UpstreamTimeout:     10 * time.Second,
		UpstreamRateLimit:   10,
		MaxConnectionsToApp: 100,
		EPGCacheDuration:    5 * time.Minute,
		EPGCacheSize:        1000,
		DefaultTimezone:     "Europe/Brussels",
		DefaultLanguage:     "en",
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.ListenAddr == "" {
		config.ListenAddr = defaults.ListenAddr
	}
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.DatabasePath == "" {
		config.DatabasePath = defaults.DatabasePath
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
		if config.Debug {
			config.LogLevel = "DEBUG"
		}
	}
	if config.LogFormat == "" {
		config.LogFormat = defaults.LogFormat
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = defaults.WorkerThreads
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = defaults.UpstreamTimeout
	}
	if config.UpstreamRateLimit <= 0 {
		config.UpstreamRateLimit = defaults.UpstreamRateLimit
	}
	if config.MaxConnectionsToApp <= 0 {
		config.MaxConnectionsToApp = defaults.MaxConnectionsToApp
	}
	if config.EPGCacheDuration <= 0 {
		config.EPGCacheDuration = defaults.EPGCacheDuration
	}
	if config.EPGCacheSize <= 0 {
		config.EPGCacheSize = defaults.EPGCacheSize
	}
	if config.DefaultTimezone == "" {
		config.DefaultTimezone = defaults.DefaultTimezone
	}
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = defaults.DefaultLanguage
	}
}

// Default returns a fully defaulted configuration without touching the cache.
func Default() *Config {
	return getDefaultConfig()
}

// CreateExampleConfig writes an example JSON config file to path.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		ListenAddr:          ":8080",
		BaseURL:             "http://localhost:8080",
		DatabasePath:        "/settings/kptv-timeshift.db",
		SeedFile:            "/settings/seed.yaml",
		LogLevel:            "INFO",
		LogFormat:           "json",
		ObfuscateUrls:       true,
		WorkerThreads:       4,
		UpstreamTimeout:     "10s",
		UpstreamRateLimit:   10,
		MaxConnectionsToApp: 100,
		EPGCacheDuration:    "5m",
		EPGCacheSize:        1000,
		XMLTVURL:            "http://example.com/xmltv.php?username=user&password=pass",
		DefaultTimezone:     "Europe/Brussels",
		DefaultLanguage:     "en",
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache drops the cached configuration so the next LoadConfig
// reads the file again.
func ClearConfigCache() {
	configMu.Lock()
	defer configMu.Unlock()
	configCache = nil
}
