// Package config loads storetran settings from a config file, the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/valpere/storetran/internal/translator"
)

const envPrefix = "STORETRAN"

// ASC holds App Store Connect API credentials and client tuning.
type ASC struct {
	KeyID          string        `mapstructure:"key_id"`
	IssuerID       string        `mapstructure:"issuer_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryJitter    time.Duration `mapstructure:"retry_jitter"`
}

type Config struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	Concurrency     int           `mapstructure:"concurrency"`
	Pacing          time.Duration `mapstructure:"pacing"`
	Refinement      string        `mapstructure:"refinement"`
	// Seed fixes the provider seed when non-zero; zero draws one per run.
	Seed        int64  `mapstructure:"seed"`
	AuditDir    string `mapstructure:"audit_dir"`
	DBPath      string `mapstructure:"db_path"`
	LogLevel    string `mapstructure:"log_level"`
	Environment string `mapstructure:"environment"`

	Providers       map[string]translator.Config `mapstructure:"providers"`
	AppStoreConnect ASC                          `mapstructure:"app_store_connect"`
	FieldLimits     map[string]int               `mapstructure:"field_limits"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// providerKeyEnv lists the conventional key variables consulted after the
// prefixed ones.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_provider", "anthropic")
	v.SetDefault("concurrency", 0)
	v.SetDefault("pacing", time.Duration(0))
	v.SetDefault("refinement", "")
	v.SetDefault("seed", 0)
	v.SetDefault("audit_dir", "./logs")
	v.SetDefault("db_path", "./data/storetran.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("environment", "local")

	for name := range providerKeyEnv {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"model", "")
		v.SetDefault(prefix+"base_url", "")
		v.SetDefault(prefix+"timeout", 120*time.Second)
	}

	v.SetDefault("app_store_connect.key_id", "")
	v.SetDefault("app_store_connect.issuer_id", "")
	v.SetDefault("app_store_connect.private_key_path", "")
	v.SetDefault("app_store_connect.base_url", "https://api.appstoreconnect.apple.com")
	v.SetDefault("app_store_connect.timeout", 30*time.Second)
	v.SetDefault("app_store_connect.max_retries", 3)
	v.SetDefault("app_store_connect.retry_base_delay", time.Second)
	v.SetDefault("app_store_connect.retry_jitter", time.Second)
}

// Load reads configuration. An empty path searches the default locations;
// a missing default file is not an error, a missing explicit one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for name, env := range providerKeyEnv {
		key := "providers." + name + ".api_key"
		if err := v.BindEnv(key, envPrefix+"_PROVIDERS_"+strings.ToUpper(name)+"_API_KEY", env); err != nil {
			return nil, err
		}
	}

	if path == "" {
		path = findDefault()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

// defaultPaths are searched in order when no --config is given.
func defaultPaths() []string {
	var paths []string
	if home, err := userHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "storetran", "config.yaml"))
	}
	return append(paths, "storetran.yaml")
}

func findDefault() string {
	for _, p := range defaultPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadEnvFile loads a .env file without overriding variables already set.
// The default ".env" may be absent; an explicitly named file may not.
func LoadEnvFile(path string) (string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return path, nil
}

// Provider returns the settings for name with an empty config for unknown names.
func (c *Config) Provider(name string) translator.Config {
	return c.Providers[strings.ToLower(name)]
}

// Validate checks settings every command relies on.
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Pacing < 0 {
		return fmt.Errorf("pacing must not be negative, got %s", c.Pacing)
	}
	if !knownProvider(c.DefaultProvider) {
		return fmt.Errorf("unknown provider %q (available: %s)", c.DefaultProvider, strings.Join(translator.Names(), ", "))
	}
	for field, limit := range c.FieldLimits {
		if limit < 0 {
			return fmt.Errorf("field limit for %s must not be negative", field)
		}
	}
	return nil
}

// ValidateASC checks the App Store Connect credentials.
func (c *Config) ValidateASC() error {
	var missing []string
	if c.AppStoreConnect.KeyID == "" {
		missing = append(missing, "app_store_connect.key_id")
	}
	if c.AppStoreConnect.IssuerID == "" {
		missing = append(missing, "app_store_connect.issuer_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing App Store Connect settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func knownProvider(name string) bool {
	for _, n := range translator.Names() {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

var userHomeDir = os.UserHomeDir

// KeyDir is where App Store Connect keys are conventionally kept.
func KeyDir() (string, error) {
	home, err := userHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".appstoreconnect", "private_keys"), nil
}

// ResolvePrivateKeyPath finds the .p8 key: the configured path if it exists,
// a bare configured file name inside KeyDir, then AuthKey_<key id>.p8 in KeyDir.
func (c *Config) ResolvePrivateKeyPath() (string, error) {
	configured := expandHome(c.AppStoreConnect.PrivateKeyPath)
	dir, dirErr := KeyDir()

	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured, nil
		}
		if dirErr == nil && !strings.ContainsRune(configured, filepath.Separator) {
			candidate := filepath.Join(dir, configured)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	if dirErr != nil {
		return "", fmt.Errorf("cannot locate key directory: %w", dirErr)
	}
	conventional := filepath.Join(dir, "AuthKey_"+c.AppStoreConnect.KeyID+".p8")
	if _, err := os.Stat(conventional); err == nil {
		return conventional, nil
	}
	return "", fmt.Errorf("could not locate .p8 key: tried %q and %q", c.AppStoreConnect.PrivateKeyPath, conventional)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := userHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
