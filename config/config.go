// Package config provides configuration loading for the agent list service.
//
// Values are layered: built-in defaults, then an optional TOML file, then
// environment variables (optionally read from a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Modes select the cache policy and log format.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// DefaultUpstream is the public agent directory page.
const DefaultUpstream = "https://origininstitute.rtomanager.com.au/Publics/PublicsPages/AgentListByCountry.aspx"

// Server settings
type Server struct {
	Addr string `toml:"addr"`
	Mode string `toml:"mode"` // "development" or "production"
}

// Upstream page settings
type Upstream struct {
	URL              string `toml:"url"`
	LocalExampleHTML bool   `toml:"localExampleHTML"` // serve from a local fixture instead of fetching
	LocalExamplePath string `toml:"localExamplePath"`
	UserAgent        string `toml:"userAgent"`
	TimeoutSeconds   int    `toml:"timeoutSeconds"`
	BrowserFallback  bool   `toml:"browserFallback"`
	ChromePath       string `toml:"chromePath"`
}

// Visa status API settings
type Visa struct {
	BaseURL       string `toml:"baseURL"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	DefaultOrigin string `toml:"defaultOrigin"`
}

// Snapshot store settings
type Snapshot struct {
	Path string `toml:"path"` // empty disables the store
	Keep int    `toml:"keep"`
}

// Sort settings
type Sort struct {
	Locale string `toml:"locale"`
}

// Config is the main configuration struct
type Config struct {
	Server   Server   `toml:"server"`
	Upstream Upstream `toml:"upstream"`
	Visa     Visa     `toml:"visa"`
	Snapshot Snapshot `toml:"snapshot"`
	Sort     Sort     `toml:"sort"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr: ":7071",
			Mode: ModeDevelopment,
		},
		Upstream: Upstream{
			URL:              DefaultUpstream,
			LocalExamplePath: "example.html",
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			TimeoutSeconds:   30,
		},
		Visa: Visa{
			DefaultOrigin: "OverseasStudent",
		},
		Snapshot: Snapshot{
			Keep: 20,
		},
		Sort: Sort{
			Locale: "en",
		},
	}
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Mode, ModeProduction)
}

// Load builds the configuration. path may be empty, in which case
// AGENTLIST_CONFIG is consulted; a missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("AGENTLIST_CONFIG")
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fileCfg, err := loadFromTOML(path)
			if err != nil {
				return nil, fmt.Errorf("loading config from %s: %w", path, err)
			}
			cfg = merge(cfg, fileCfg)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checking config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromTOML loads a TOML config file and returns the config.
func loadFromTOML(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}
	return &cfg, nil
}

// merge layers user config on top of defaults.
// Only non-zero values from user config override defaults.
func merge(defaults, user *Config) *Config {
	result := *defaults

	mergeString(&result.Server.Addr, user.Server.Addr)
	mergeString(&result.Server.Mode, user.Server.Mode)

	mergeString(&result.Upstream.URL, user.Upstream.URL)
	mergeString(&result.Upstream.LocalExamplePath, user.Upstream.LocalExamplePath)
	mergeString(&result.Upstream.UserAgent, user.Upstream.UserAgent)
	mergeString(&result.Upstream.ChromePath, user.Upstream.ChromePath)
	if user.Upstream.TimeoutSeconds != 0 {
		result.Upstream.TimeoutSeconds = user.Upstream.TimeoutSeconds
	}
	// booleans only switch features on; env vars can switch them off again
	if user.Upstream.LocalExampleHTML {
		result.Upstream.LocalExampleHTML = true
	}
	if user.Upstream.BrowserFallback {
		result.Upstream.BrowserFallback = true
	}

	mergeString(&result.Visa.BaseURL, user.Visa.BaseURL)
	mergeString(&result.Visa.Username, user.Visa.Username)
	mergeString(&result.Visa.Password, user.Visa.Password)
	mergeString(&result.Visa.DefaultOrigin, user.Visa.DefaultOrigin)

	mergeString(&result.Snapshot.Path, user.Snapshot.Path)
	if user.Snapshot.Keep != 0 {
		result.Snapshot.Keep = user.Snapshot.Keep
	}

	mergeString(&result.Sort.Locale, user.Sort.Locale)

	return &result
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// applyEnv overrides cfg from environment variables looked up with getenv.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	boolean := func(dst *bool, key string) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", key, v, err)
		}
		*dst = b
		return nil
	}

	str(&cfg.Server.Mode, "APP_ENV", "NODE_ENV")
	if port := getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("parsing PORT=%q: %w", port, err)
		}
		cfg.Server.Addr = ":" + port
	}

	str(&cfg.Upstream.URL, "UPSTREAM_URL")
	str(&cfg.Upstream.LocalExamplePath, "LOCAL_EXAMPLE_PATH")
	if err := boolean(&cfg.Upstream.LocalExampleHTML, "LOCAL_EXAMPLE_HTML"); err != nil {
		return err
	}
	if err := boolean(&cfg.Upstream.BrowserFallback, "BROWSER_FALLBACK"); err != nil {
		return err
	}

	str(&cfg.Visa.BaseURL, "CRICOS_API_BASE_URL")
	str(&cfg.Visa.Username, "CRICOS_API_USERNAME")
	str(&cfg.Visa.Password, "CRICOS_API_PASSWORD")

	str(&cfg.Snapshot.Path, "SNAPSHOT_DB")
	str(&cfg.Sort.Locale, "SORT_LOCALE")
	return nil
}

// DefaultConfigTOML returns a commented example config file.
func DefaultConfigTOML() string {
	return `# agentlist configuration
# Point AGENTLIST_CONFIG at this file or pass -c/--config.

[server]
addr = ":7071"
mode = "development"   # "production" enables long-lived cache headers

[upstream]
url = "` + DefaultUpstream + `"
localExampleHTML = false
localExamplePath = "example.html"
timeoutSeconds = 30
browserFallback = false   # retry challenged fetches with headless Chrome
# chromePath = "/usr/bin/chromium"

[visa]
# baseURL = "https://api.example.edu.au"
# username and password are better supplied via CRICOS_API_USERNAME / CRICOS_API_PASSWORD
defaultOrigin = "OverseasStudent"

[snapshot]
# path = "agentlist.db"
keep = 20

[sort]
locale = "en"
`
}
