package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix         = "MINERSTATS"
	defaultLogFile    = "/root/debug.log"
	defaultListenAddr = "127.0.0.1:8080"
)

// Config is the daemon's startup configuration
type Config struct {
	LogFile         string        `mapstructure:"log_file"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	StreamRefresh   time.Duration `mapstructure:"stream_refresh"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// options are command-line switches that are not configuration
type options struct {
	printConfig bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_file", defaultLogFile)
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("stream_refresh", "5s")
	v.SetDefault("shutdown_timeout", "5s")
}

// loadConfig resolves the configuration from defaults, an optional
// YAML file, MINERSTATS_* environment variables and flags, in
// increasing order of precedence.
func loadConfig(args []string) (*Config, options, error) {
	var opts options

	flags := pflag.NewFlagSet("minerstatsd", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	flags.BoolVar(&opts.printConfig, "print-config", false, "print the effective configuration and exit")
	flags.String("log-file", defaultLogFile, "miner log to follow")
	flags.String("listen", defaultListenAddr, "HTTP listen address")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console or json)")
	flags.StringSlice("cors-origin", nil, "origin allowed to call the API; repeatable, * for any")
	if err := flags.Parse(args); err != nil {
		return nil, opts, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"log_file":     "log-file",
		"listen_addr":  "listen",
		"log_level":    "log-level",
		"log_format":   "log-format",
		"cors_origins": "cors-origin",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, opts, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, opts, fmt.Errorf("read config %s: %w", *configFile, err)
		}
	} else {
		v.SetConfigName("minerstats")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/minerstats")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, opts, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, opts, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, opts, err
	}
	return &cfg, opts, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.LogFile) == "" {
		return errors.New("log_file is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q: %w", c.ListenAddr, err)
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q: must be console or json", c.LogFormat)
	}
	for _, origin := range c.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("cors origin %q: must be * or start with http:// or https://", origin)
		}
	}
	if c.StreamRefresh <= 0 {
		return fmt.Errorf("stream_refresh must be positive, got %v", c.StreamRefresh)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %v", c.ShutdownTimeout)
	}
	return nil
}

// MarshalYAML renders durations as strings so the output can be fed
// back through --config.
func (c Config) MarshalYAML() (interface{}, error) {
	origins := c.CORSOrigins
	if origins == nil {
		origins = []string{}
	}
	return struct {
		LogFile         string   `yaml:"log_file"`
		ListenAddr      string   `yaml:"listen_addr"`
		LogLevel        string   `yaml:"log_level"`
		LogFormat       string   `yaml:"log_format"`
		CORSOrigins     []string `yaml:"cors_origins"`
		StreamRefresh   string   `yaml:"stream_refresh"`
		ShutdownTimeout string   `yaml:"shutdown_timeout"`
	}{
		LogFile:         c.LogFile,
		ListenAddr:      c.ListenAddr,
		LogLevel:        c.LogLevel,
		LogFormat:       c.LogFormat,
		CORSOrigins:     origins,
		StreamRefresh:   c.StreamRefresh.String(),
		ShutdownTimeout: c.ShutdownTimeout.String(),
	}, nil
}

func printConfig(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
