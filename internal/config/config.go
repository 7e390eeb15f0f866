package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	StaticPath     string        `mapstructure:"static_path"`
	LogLevel       string        `mapstructure:"log_level"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	CodeLength     int           `mapstructure:"code_length"`
	JoinAttempts   int           `mapstructure:"join_attempts"`
	JoinWindow     time.Duration `mapstructure:"join_window"`
	Backpressure   string        `mapstructure:"backpressure"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ICEServers     []ICEServer   `mapstructure:"ice_servers"`
}

// BindFlags registers the command-line overrides for the most common keys.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.String("mode", "release", "gin mode: debug or release")
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("static-path", "./web", "directory holding host.html and viewer.html")
	fs.String("log-level", "info", "zerolog level")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("code_length", 6)
	v.SetDefault("join_attempts", 10)
	v.SetDefault("join_window", "1m")
	v.SetDefault("backpressure", "kick")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{DefaultSTUN}}})
}

func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STREAMRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	fileName := ""
	if fs != nil {
		for key, flag := range map[string]string{
			"mode":        "mode",
			"port":        "port",
			"static_path": "static-path",
			"log_level":   "log-level",
		} {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil {
			fileName = f.Value.String()
		}
	}
	explicit := fileName != ""
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PongWait <= c.PingPeriod {
		return fmt.Errorf("pong_wait (%s) must exceed ping_period (%s)", c.PongWait, c.PingPeriod)
	}
	if c.JoinAttempts <= 0 || c.JoinWindow <= 0 {
		return fmt.Errorf("join_attempts and join_window must be positive")
	}
	switch c.Backpressure {
	case "kick", "drop":
	default:
		return fmt.Errorf("invalid backpressure policy %q", c.Backpressure)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	for _, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice server without urls")
		}
		for _, raw := range s.URLs {
			if _, err := stun.ParseURI(raw); err != nil {
				return fmt.Errorf("invalid ice server url %q: %w", raw, err)
			}
		}
	}
	return nil
}
