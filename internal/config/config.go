package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	fileutil "papersnap/internal/file"
)

const (
	defaultPort                     = 8080
	defaultDataDir                  = "data"
	defaultMaxConcurrentTasks       = 1
	defaultFetchWorkers             = 32
	defaultFetchTimeoutSeconds      = 10
	defaultTranslationTimeoutMins   = 20
	defaultNavigationTimeoutSeconds = 120
	defaultAPIBaseURL               = "https://api.zotero.org"
	defaultTranslationMarker        = "font.immersive-translate-loading-spinner.notranslate"
)

// Config describes runtime configuration. The file is JSON in practice;
// yaml.v3 decodes it because YAML is a superset of JSON.
type Config struct {
	LibraryID     string `yaml:"library_id" json:"library_id"`
	LibraryType   string `yaml:"library_type" json:"library_type"`
	APIKey        string `yaml:"api_key" json:"api_key"`
	UserDataDir   string `yaml:"user_data_dir" json:"user_data_dir"`
	ExtensionPath string `yaml:"extension_path" json:"extension_path"`
	OutputDir     string `yaml:"output_dir" json:"output_dir"`
	ZoteroStorage string `yaml:"zotero_storage" json:"zotero_storage"`

	LastUsedCollectionKey  string `yaml:"last_used_collection_key" json:"last_used_collection_key"`
	LastUsedCollectionName string `yaml:"last_used_collection_name" json:"last_used_collection_name"`

	Port                     int    `yaml:"port" json:"port"`
	DataDir                  string `yaml:"data_dir" json:"data_dir"`
	MaxConcurrentTasks       int    `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`
	FetchWorkers             int    `yaml:"fetch_workers" json:"fetch_workers"`
	FetchTimeoutSeconds      int    `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`
	TranslationTimeoutMins   int    `yaml:"translation_timeout_minutes" json:"translation_timeout_minutes"`
	NavigationTimeoutSeconds int    `yaml:"navigation_timeout_seconds" json:"navigation_timeout_seconds"`
	APIBaseURL               string `yaml:"api_base_url" json:"api_base_url"`
	TranslationMarker        string `yaml:"translation_marker" json:"translation_marker"`
}

// Default returns the template written on first start. Library credentials
// are left as hints the operator must replace.
func Default() Config {
	return Config{
		LibraryID:                "",
		LibraryType:              "user",
		APIKey:                   "",
		UserDataDir:              "config/user_data",
		ExtensionPath:            "config/extension",
		OutputDir:                "download",
		ZoteroStorage:            "",
		Port:                     defaultPort,
		DataDir:                  defaultDataDir,
		MaxConcurrentTasks:       defaultMaxConcurrentTasks,
		FetchWorkers:             defaultFetchWorkers,
		FetchTimeoutSeconds:      defaultFetchTimeoutSeconds,
		TranslationTimeoutMins:   defaultTranslationTimeoutMins,
		NavigationTimeoutSeconds: defaultNavigationTimeoutSeconds,
		APIBaseURL:               defaultAPIBaseURL,
		TranslationMarker:        defaultTranslationMarker,
	}
}

// Load reads the config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(strings.TrimSpace(string(fileData))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	// validate concurrency explicitly: values < 1 are not allowed
	if cfg.MaxConcurrentTasks < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_tasks: %d (must be >= 1)", cfg.MaxConcurrentTasks)
	}
	if cfg.FetchWorkers < 1 {
		return cfg, fmt.Errorf("invalid fetch_workers: %d (must be >= 1)", cfg.FetchWorkers)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = defaultFetchTimeoutSeconds
	}
	if c.TranslationTimeoutMins <= 0 {
		c.TranslationTimeoutMins = defaultTranslationTimeoutMins
	}
	if c.NavigationTimeoutSeconds <= 0 {
		c.NavigationTimeoutSeconds = defaultNavigationTimeoutSeconds
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.TranslationMarker == "" {
		c.TranslationMarker = defaultTranslationMarker
	}
	c.LibraryType = strings.ToLower(strings.TrimSpace(c.LibraryType))
}

// Validate checks that every key needed for a capture run is present.
func (c Config) Validate() error {
	required := []struct {
		key, value string
	}{
		{"library_id", c.LibraryID},
		{"library_type", c.LibraryType},
		{"api_key", c.APIKey},
		{"user_data_dir", c.UserDataDir},
		{"extension_path", c.ExtensionPath},
		{"output_dir", c.OutputDir},
		{"zotero_storage", c.ZoteroStorage},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}
	if c.LibraryType != "user" && c.LibraryType != "group" {
		return fmt.Errorf("invalid library_type %q (must be user or group)", c.LibraryType)
	}
	return nil
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c Config) TranslationTimeout() time.Duration {
	return time.Duration(c.TranslationTimeoutMins) * time.Minute
}

func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutSeconds) * time.Second
}

// WriteDefault writes the default template to path unless a file is already there.
func WriteDefault(path string) (bool, error) {
	if fileutil.Exists(path) {
		return false, nil
	}
	if err := fileutil.WriteJSONAtomic(path, Default()); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

// SaveLastCollection rewrites the config file at path with the given
// last-used collection, keeping every other key.
func SaveLastCollection(path, key, name string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.LastUsedCollectionKey = key
	cfg.LastUsedCollectionName = name
	if err := fileutil.WriteJSONAtomic(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
