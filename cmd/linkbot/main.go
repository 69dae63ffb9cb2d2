package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"linkbot/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // --config
	envFile    string // --env-file
)

const defaultEnvFile = ".env"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "linkbot",
		Short: "Telegram bot that turns uploads into direct download links",
		Long: `linkbot replies to uploaded files with direct download links, forwards
free-text messages to an operator channel as feedback, and mirrors every
message it sees to that channel.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional config file (.json, .yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before reading the environment")

	root.AddCommand(runCmd())
	root.AddCommand(consoleCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	return root
}

// loadEnvFile loads the dotenv file. A missing default file is fine;
// a missing file the user named explicitly is not.
func loadEnvFile() error {
	err := godotenv.Load(envFile)
	if err == nil {
		logger.Debug("env file loaded", "path", envFile)
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && envFile == defaultEnvFile {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", envFile, err)
}

// newLogger builds the process logger from config. The returned closer
// releases the log file, if any.
func newLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "linkbot %s\n", version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var asYAML bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with the token masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(configPath)
			if err != nil {
				return err
			}
			sanitized := config.Sanitize(cfg)

			var data []byte
			if asYAML {
				data, err = yaml.Marshal(sanitized)
			} else {
				data, err = json.MarshalIndent(sanitized, "", "  ")
			}
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(data), "\n"))
			return nil
		},
	}
	show.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of JSON")
	cmd.AddCommand(show)

	return cmd
}
