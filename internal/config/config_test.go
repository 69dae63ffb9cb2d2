package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvToken, EnvFeedbackChannel, EnvLogLevel, EnvMetricsAddr} {
		t.Setenv(k, "")
	}
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Telegram.Token = "123456:secret-token"
	cfg.Telegram.FeedbackChannelID = "-1001234567890"
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MissingToken(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.Token = " "
	err := Validate(cfg)
	if !errors.Is(err, ErrMissingToken) || !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestValidate_MissingFeedbackChannel(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.FeedbackChannelID = ""
	err := Validate(cfg)
	if !errors.Is(err, ErrMissingFeedbackChannel) {
		t.Fatalf("expected ErrMissingFeedbackChannel, got %v", err)
	}
	if errors.Is(err, ErrMissingToken) {
		t.Error("token is present and should not be reported")
	}
}

func TestValidate_MissingBoth(t *testing.T) {
	err := Validate(Defaults())
	if !errors.Is(err, ErrMissingToken) || !errors.Is(err, ErrMissingFeedbackChannel) {
		t.Fatalf("expected both missing values reported, got %v", err)
	}
}

func TestValidate_ChannelUsername(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.FeedbackChannelID = "@ops_feedback"
	if err := Validate(cfg); err != nil {
		t.Fatalf("@channel should be valid: %v", err)
	}

	for _, bad := range []string{"@", "ops", "@ops feedback", "12a"} {
		cfg.Telegram.FeedbackChannelID = bad
		if err := Validate(cfg); err == nil {
			t.Errorf("%q should be rejected", bad)
		}
	}
}

func TestValidate_LogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		cfg := validConfig()
		cfg.Log.Level = level
		if err := Validate(cfg); err != nil {
			t.Errorf("level %q should be valid: %v", level, err)
		}
	}
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.PollTimeout = -1
	cfg.Telegram.SendsPerSecond = -2
	cfg.Telegram.FileHost = "https://api.telegram.org"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "nope"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"pollTimeout", "sendsPerSecond", "fileHost", "metrics.addr"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
	if errors.Is(err, ErrMissingConfig) {
		t.Error("validation errors should not look like missing config")
	}
}

// --- Load ---

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvToken, "env-token-value")
	t.Setenv(EnvFeedbackChannel, "-10042")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "env-token-value" || cfg.Telegram.FeedbackChannelID != "-10042" {
		t.Errorf("env not applied: %+v", cfg.Telegram)
	}
	if cfg.Telegram.FileHost != "api.telegram.org" {
		t.Errorf("default file host lost: %q", cfg.Telegram.FileHost)
	}
}

func TestLoad_MissingEverything(t *testing.T) {
	clearEnv(t)
	if _, err := Load(""); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "linkbot.json", `{
		"telegram": {"token": "file-token", "feedbackChannelId": "@ops", "pollTimeout": 10},
		"log": {"level": "debug"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "file-token" || cfg.Telegram.PollTimeout != 10 || cfg.Log.Level != "debug" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Telegram.SendsPerSecond != 25 {
		t.Errorf("unset fields should keep defaults, got %v", cfg.Telegram.SendsPerSecond)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "linkbot.yaml", `
telegram:
  token: yaml-token
  feedbackChannelId: "-1009"
  fileHost: files.example.org
metrics:
  enabled: true
  addr: ":9100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "yaml-token" || cfg.Telegram.FileHost != "files.example.org" {
		t.Errorf("yaml values not applied: %+v", cfg.Telegram)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9100" {
		t.Errorf("metrics not applied: %+v", cfg.Metrics)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvToken, "from-env")
	t.Setenv(EnvMetricsAddr, "127.0.0.1:9999")
	path := writeFile(t, "c.json", `{"telegram": {"token": "from-file", "feedbackChannelId": "1"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Errorf("env should win, got %q", cfg.Telegram.Token)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "127.0.0.1:9999" {
		t.Errorf("metrics env should enable the endpoint: %+v", cfg.Metrics)
	}
}

func TestLoad_ExpandsVarsInFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LINKBOT_TEST_TOKEN", "expanded-token")
	path := writeFile(t, "c.json", `{"telegram": {"token": "${LINKBOT_TEST_TOKEN}", "feedbackChannelId": "${LINKBOT_TEST_CHAN:-77}"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "expanded-token" || cfg.Telegram.FeedbackChannelID != "77" {
		t.Errorf("expansion failed: %+v", cfg.Telegram)
	}
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeFile(t, "bad.json", `{not json`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cannot parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	clearEnv(t)
	cfg, err := Read("")
	if err != nil {
		t.Fatalf("read should not validate: %v", err)
	}
	if cfg.Telegram.Token != "" || cfg.Log.Level != "info" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

// --- helpers ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LINKBOT_X", "x")
	got := ExpandEnvVars("${LINKBOT_X}-${LINKBOT_UNSET_VAR}-${LINKBOT_UNSET_VAR:-d}")
	if got != "x-${LINKBOT_UNSET_VAR}-d" {
		t.Errorf("unexpected expansion %q", got)
	}
}

func TestSanitize_MasksToken(t *testing.T) {
	cfg := validConfig()
	s := Sanitize(cfg)
	if s.Telegram.Token == cfg.Telegram.Token {
		t.Error("token should be masked")
	}
	if !strings.HasPrefix(s.Telegram.Token, "1234") || !strings.HasSuffix(s.Telegram.Token, "oken") {
		t.Errorf("unexpected mask %q", s.Telegram.Token)
	}
	if cfg.Telegram.Token != "123456:secret-token" {
		t.Error("original config must not change")
	}
	if maskString("short") != "***" {
		t.Error("short values should be fully masked")
	}
}
