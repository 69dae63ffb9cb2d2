package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read on top of the config file.
const (
	EnvToken           = "TG_Token"
	EnvFeedbackChannel = "CH_Token"
	EnvLogLevel        = "LINKBOT_LOG_LEVEL"
	EnvMetricsAddr     = "LINKBOT_METRICS_ADDR"
)

var (
	// ErrMissingConfig is wrapped by every missing required value.
	ErrMissingConfig          = errors.New("required configuration missing")
	ErrMissingToken           = fmt.Errorf("%w: bot token (%s)", ErrMissingConfig, EnvToken)
	ErrMissingFeedbackChannel = fmt.Errorf("%w: feedback channel id (%s)", ErrMissingConfig, EnvFeedbackChannel)
)

// Config is the root configuration. It is loaded once and read-only afterwards.
type Config struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type TelegramConfig struct {
	Token             string  `json:"token" yaml:"token"`
	FeedbackChannelID string  `json:"feedbackChannelId" yaml:"feedbackChannelId"` // numeric id or @channelname
	FileHost          string  `json:"fileHost" yaml:"fileHost"`
	PollTimeout       int     `json:"pollTimeout" yaml:"pollTimeout"`       // long-poll seconds
	SendsPerSecond    float64 `json:"sendsPerSecond" yaml:"sendsPerSecond"` // outbound pacing
	Debug             bool    `json:"debug" yaml:"debug"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Load builds the configuration from defaults, the optional file at path
// (JSON, or YAML for .yaml/.yml), and finally the environment.
// The result is validated; missing required values wrap ErrMissingConfig.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that fill in blanks themselves.
func Read(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv lets non-empty environment values override file values.
func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvToken)
	set(&cfg.Telegram.FeedbackChannelID, EnvFeedbackChannel)
	set(&cfg.Log.Level, EnvLogLevel)
	if v := strings.TrimSpace(os.Getenv(EnvMetricsAddr)); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Validate checks required values first, then everything else.
// Missing required values are returned on their own so callers can
// match them with errors.Is.
func Validate(cfg *Config) error {
	var missing []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		missing = append(missing, ErrMissingToken)
	}
	if strings.TrimSpace(cfg.Telegram.FeedbackChannelID) == "" {
		missing = append(missing, ErrMissingFeedbackChannel)
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}

	var errs []string

	if !validChatID(cfg.Telegram.FeedbackChannelID) {
		errs = append(errs, "telegram.feedbackChannelId must be a numeric chat id or @channelname")
	}
	if cfg.Telegram.PollTimeout < 0 || cfg.Telegram.PollTimeout > 600 {
		errs = append(errs, "telegram.pollTimeout must be between 0 and 600")
	}
	if cfg.Telegram.SendsPerSecond < 0 {
		errs = append(errs, "telegram.sendsPerSecond must be >= 0")
	}
	if strings.ContainsAny(cfg.Telegram.FileHost, "/ ") {
		errs = append(errs, "telegram.fileHost must be a bare host name")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.addr %q is not host:port", cfg.Metrics.Addr))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validChatID(id string) bool {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "@") {
		return len(id) > 1 && !strings.ContainsAny(id, " /")
	}
	_, err := strconv.ParseInt(id, 10, 64)
	return err == nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
