package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ServerPort      string
	SessionPort     string
	DatabaseURL     string
	LogLevel        string
	LogFormat       string
	LogFile         string
	StoreURL        string
	StoreTransport  string
	SessionURL      string
	AppVersion      string
	AssetDir        string
	AssetOrigin     string
	ManifestPath    string
	TaxonomyPath    string
	EntryDocument   string
	AutoSkipWaiting string
	RefreshSeconds  string
	AddSettleMillis string
	FetchTimeoutSec string
	ConfigFile      string

	// Tuning holds pool, client and logging settings, from CONFIG_FILE when set
	Tuning *shared.UnifiedConfiguration
}

// SyncConfig holds the session-side sync engine timing
type SyncConfig struct {
	RefreshInterval time.Duration `json:"refresh_interval"`
	AddSettleDelay  time.Duration `json:"add_settle_delay"`
	FetchTimeout    time.Duration `json:"fetch_timeout"`
}

// DefaultSyncConfig returns the polling cadence used by the page
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		RefreshInterval: 30 * time.Second,
		AddSettleDelay:  1 * time.Second,
		FetchTimeout:    10 * time.Second,
	}
}

// CoordinatorConfig holds offline cache generation settings
type CoordinatorConfig struct {
	Version         string   `json:"version"`
	Resources       []string `json:"resources"`
	EntryDocument   string   `json:"entry_document"`
	AutoSkipWaiting bool     `json:"auto_skip_waiting"`
}

// DefaultCoordinatorConfig returns the first generation's resource set
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		Version: "v1.0",
		Resources: []string{
			"./",
			"./index.html",
			"./manifest.json",
			"./style.css",
			"./script.js",
		},
		EntryDocument:   "./index.html",
		AutoSkipWaiting: true,
	}
}

// GetSyncConfig overlays environment values onto DefaultSyncConfig
func (c *Config) GetSyncConfig() *SyncConfig {
	sc := DefaultSyncConfig()
	if d, ok := parsePositive(c.RefreshSeconds, "REFRESH_INTERVAL_SECONDS"); ok {
		sc.RefreshInterval = time.Duration(d) * time.Second
	}
	if d, ok := parsePositive(c.AddSettleMillis, "ADD_SETTLE_MILLIS"); ok {
		sc.AddSettleDelay = time.Duration(d) * time.Millisecond
	}
	if d, ok := parsePositive(c.FetchTimeoutSec, "FETCH_TIMEOUT_SECONDS"); ok {
		sc.FetchTimeout = time.Duration(d) * time.Second
	}
	return sc
}

// GetCoordinatorConfig overlays environment values onto DefaultCoordinatorConfig
func (c *Config) GetCoordinatorConfig() *CoordinatorConfig {
	cc := DefaultCoordinatorConfig()
	if c.AppVersion != "" {
		cc.Version = c.AppVersion
	}
	if c.EntryDocument != "" {
		cc.EntryDocument = c.EntryDocument
	}
	if c.AutoSkipWaiting != "" {
		v, err := strconv.ParseBool(c.AutoSkipWaiting)
		if err != nil {
			logrus.Warnf("Invalid AUTO_SKIP_WAITING value: %s, using %v", c.AutoSkipWaiting, cc.AutoSkipWaiting)
		} else {
			cc.AutoSkipWaiting = v
		}
	}
	return cc
}

// GetLoggingConfig maps the log settings onto the shared logging config
// Environment values win over the config file.
func (c *Config) GetLoggingConfig() shared.LoggingConfig {
	lc := c.tuning().Logging
	if c.LogLevel != "" {
		lc.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		lc.Format = c.LogFormat
	}
	if c.LogFile != "" {
		lc.File = c.LogFile
	}
	return lc
}

// GetDatabaseConfig returns the connection pool settings
func (c *Config) GetDatabaseConfig() shared.DatabaseConfig {
	return c.tuning().Database
}

func (c *Config) tuning() *shared.UnifiedConfiguration {
	if c.Tuning == nil {
		return shared.NewDefaultUnifiedConfiguration()
	}
	return c.Tuning
}

// OpaqueTransport reports whether saves are sent without reading the response
func (c *Config) OpaqueTransport() bool {
	return !strings.EqualFold(c.StoreTransport, "cors")
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	configFile := getEnv("CONFIG_FILE", "")

	return &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		SessionPort:     getEnv("SESSION_PORT", "8081"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		LogLevel:        getEnv("LOG_LEVEL", ""),
		LogFormat:       getEnv("LOG_FORMAT", ""),
		LogFile:         getEnv("LOG_FILE", ""),
		StoreURL:        getEnv("STORE_URL", "http://localhost:8080/exec"),
		StoreTransport:  getEnv("STORE_TRANSPORT", "opaque"),
		SessionURL:      getEnv("SESSION_URL", "ws://localhost:8081/ws"),
		AppVersion:      getEnv("APP_VERSION", ""),
		AssetDir:        getEnv("ASSET_DIR", "./web"),
		AssetOrigin:     getEnv("ASSET_ORIGIN", ""),
		ManifestPath:    getEnv("MANIFEST_PATH", ""),
		TaxonomyPath:    getEnv("TAXONOMY_PATH", ""),
		EntryDocument:   getEnv("ENTRY_DOCUMENT", ""),
		AutoSkipWaiting: getEnv("AUTO_SKIP_WAITING", ""),
		RefreshSeconds:  getEnv("REFRESH_INTERVAL_SECONDS", ""),
		AddSettleMillis: getEnv("ADD_SETTLE_MILLIS", ""),
		FetchTimeoutSec: getEnv("FETCH_TIMEOUT_SECONDS", ""),
		ConfigFile:      configFile,
		Tuning:          LoadTuning(configFile),
	}
}

// LoadTuning reads a JSON tuning file. A missing path gives the defaults; an
// unreadable or invalid file is logged and also gives the defaults.
func LoadTuning(path string) *shared.UnifiedConfiguration {
	tuning := shared.NewDefaultUnifiedConfiguration()
	if path == "" {
		return tuning
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Warnf("Cannot read CONFIG_FILE %s: %v, using defaults", path, err)
		return tuning
	}
	if err := tuning.LoadFromJSON(data); err != nil {
		logrus.Warnf("Invalid CONFIG_FILE %s: %v, using defaults", path, err)
		return shared.NewDefaultUnifiedConfiguration()
	}
	return tuning
}

func parsePositive(raw, key string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logrus.Warnf("Invalid %s value: %s, using default", key, raw)
		return 0, false
	}
	return n, true
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
