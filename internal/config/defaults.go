package config

func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			FileHost:       "api.telegram.org",
			PollTimeout:    30,
			SendsPerSecond: 25,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
