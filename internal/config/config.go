// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Popup    PopupConfig    `mapstructure:"popup" yaml:"popup"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File output with rotation; disabled when LogFile is empty.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ProviderConfig locates the trust provider.
type ProviderConfig struct {
	// Endpoint is the provider's base URL; action paths are appended to it.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// PopupConfig sizes popup windows and tunes close detection.
type PopupConfig struct {
	Width        int           `mapstructure:"width" yaml:"width"`
	Height       int           `mapstructure:"height" yaml:"height"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// BrowserConfig controls the Chrome instance driven by the cdp environment.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	FocusSupported    bool          `mapstructure:"focus_supported" yaml:"focus_supported"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "grantflow",
		},
		Popup: PopupConfig{
			Width:        600,
			Height:       700,
			PollInterval: 250 * time.Millisecond,
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 60 * time.Second,
		},
	}
}

// Load reads the configuration from the given file (or ./config.yaml when
// empty), layered over defaults and GRANTFLOW_* environment variables.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GRANTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would break at runtime.
func (c Config) Validate() error {
	switch c.Logger.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.Logger.Format)
	}
	if c.Popup.Width <= 0 || c.Popup.Height <= 0 {
		return fmt.Errorf("popup.width and popup.height must be positive integers")
	}
	if c.Popup.PollInterval <= 0 {
		return fmt.Errorf("popup.poll_interval must be a positive duration")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.Provider.Endpoint != "" {
		u, err := url.Parse(c.Provider.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("provider.endpoint must be an absolute URL, got %q", c.Provider.Endpoint)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("logger.level", cfg.Logger.Level)
	v.SetDefault("logger.format", cfg.Logger.Format)
	v.SetDefault("logger.service_name", cfg.Logger.ServiceName)
	v.SetDefault("popup.width", cfg.Popup.Width)
	v.SetDefault("popup.height", cfg.Popup.Height)
	v.SetDefault("popup.poll_interval", cfg.Popup.PollInterval)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.focus_supported", cfg.Browser.FocusSupported)
	v.SetDefault("browser.navigation_timeout", cfg.Browser.NavigationTimeout)
}
