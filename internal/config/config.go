package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for medtrack
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Replenish  ReplenishConfig  `mapstructure:"replenish"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Conflicts  ConflictsConfig  `mapstructure:"conflicts"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// SchedulingConfig controls reminder materialization
type SchedulingConfig struct {
	HorizonDays          int `mapstructure:"horizon_days"`
	DefaultSnoozeMinutes int `mapstructure:"default_snooze_minutes"`
}

// SweepConfig controls the missed-reminder sweep
type SweepConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Schedule        string `mapstructure:"schedule"`
	GraceMinutes    int    `mapstructure:"grace_minutes"`
	LeaseTTLSeconds int    `mapstructure:"lease_ttl_seconds"`
}

// ReplenishConfig controls horizon replenishment
type ReplenishConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// DispatchConfig controls delivery of due reminders to notifiers
type DispatchConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Schedule        string `mapstructure:"schedule"`
	PerMinute       int    `mapstructure:"per_minute"`
	BreakerFailures int    `mapstructure:"breaker_failures"`
}

// ConflictsConfig holds the cross-reactivity table source
type ConflictsConfig struct {
	TableFile string `mapstructure:"table_file"`
	Watch     bool   `mapstructure:"watch"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	AdminPassword string   `mapstructure:"admin_password"`
	AllowOrigins  []string `mapstructure:"allow_origins"`
}

// LoggingConfig selects the zap preset
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load loads configuration from defaults, the YAML file and the environment.
// Dotenv files are exported into the environment first.
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := LoadEnvFiles(envFiles(dataDir)...); err != nil {
		return nil, err
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "medtrack.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "medtrack.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// MEDTRACK_SERVER_PORT, MEDTRACK_SWEEP_GRACE_MINUTES, ...
	v.SetEnvPrefix("MEDTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	cfg.Conflicts.TableFile = expandPath(cfg.Conflicts.TableFile)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("scheduling.horizon_days", 7)
	v.SetDefault("scheduling.default_snooze_minutes", 10)

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "@every 1m")
	v.SetDefault("sweep.grace_minutes", 60)
	v.SetDefault("sweep.lease_ttl_seconds", 120)

	v.SetDefault("replenish.enabled", true)
	v.SetDefault("replenish.schedule", "@every 1h")

	v.SetDefault("dispatch.enabled", true)
	v.SetDefault("dispatch.schedule", "@every 30s")
	v.SetDefault("dispatch.per_minute", 120)
	v.SetDefault("dispatch.breaker_failures", 5)

	v.SetDefault("conflicts.watch", true)

	v.SetDefault("security.allow_origins", []string{"*"})

	v.SetDefault("logging.development", false)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "medtrack")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "medtrack")
}

// loadEnvOverrides applies the secrets that may arrive under alias names
func loadEnvOverrides(cfg *Config) {
	if v := ResolveEnvWithAliases("MEDTRACK_SECURITY_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := ResolveEnvWithAliases("MEDTRACK_SECURITY_ADMIN_PASSWORD"); v != "" {
		cfg.Security.AdminPassword = v
	}
	if v := ResolveEnvWithAliases("MEDTRACK_CONFLICTS_TABLE_FILE"); v != "" {
		cfg.Conflicts.TableFile = v
	}

	if port := ResolveEnvWithAliases("MEDTRACK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Scheduling.HorizonDays <= 0 {
		return fmt.Errorf("scheduling.horizon_days must be positive")
	}
	if cfg.Scheduling.DefaultSnoozeMinutes <= 0 {
		return fmt.Errorf("scheduling.default_snooze_minutes must be positive")
	}
	if cfg.Sweep.GraceMinutes < 0 {
		return fmt.Errorf("sweep.grace_minutes cannot be negative")
	}
	if cfg.Sweep.LeaseTTLSeconds <= 0 {
		return fmt.Errorf("sweep.lease_ttl_seconds must be positive")
	}
	if cfg.Dispatch.PerMinute <= 0 {
		return fmt.Errorf("dispatch.per_minute must be positive")
	}
	if cfg.Dispatch.BreakerFailures <= 0 {
		return fmt.Errorf("dispatch.breaker_failures must be positive")
	}

	// Generate JWT secret if not provided
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateRandomString(32)
	}

	return nil
}

func generateRandomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}

// Horizon is how far ahead reminders are materialized
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.Scheduling.HorizonDays) * 24 * time.Hour
}

// DefaultSnooze is the delay used when a snooze request names none
func (c *Config) DefaultSnooze() time.Duration {
	return time.Duration(c.Scheduling.DefaultSnoozeMinutes) * time.Minute
}

// SweepGrace is how long past its time a reminder stays actionable
func (c *Config) SweepGrace() time.Duration {
	return time.Duration(c.Sweep.GraceMinutes) * time.Minute
}

// LeaseTTL bounds how long one process may hold the sweep lease
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Sweep.LeaseTTLSeconds) * time.Second
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
