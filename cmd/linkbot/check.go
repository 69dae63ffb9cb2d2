package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"linkbot/internal/channel"
	"linkbot/internal/config"
	"linkbot/internal/dispatch"

	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run diagnostic checks on the configuration and the bot account",
		Long: `Verifies that the configuration is complete, that the token is accepted
by Telegram and that the bot can see the feedback channel. Reports
pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "linkbot check v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if configPath != "" {
				if _, err := os.Stat(configPath); err != nil {
					printFail(out, "Config file", fmt.Sprintf("not found at %s", configPath))
					return fmt.Errorf("config file not found")
				}
				printPass(out, "Config file", configPath)
				passed++
			} else {
				printWarn(out, "Config file", "none given, using defaults and environment")
				warned++
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				printFail(out, "Config validation", err.Error())
				fmt.Fprintf(out, "\n%d passed, %d warnings, 1 failed\n", passed, warned)
				return fmt.Errorf("config invalid")
			}
			printPass(out, "Config validation", "valid")
			passed++

			if cfg.Telegram.FileHost != dispatch.DefaultFileHost {
				printWarn(out, "File host", fmt.Sprintf("%s (links will not point at Telegram)", cfg.Telegram.FileHost))
				warned++
			} else {
				printPass(out, "File host", cfg.Telegram.FileHost)
				passed++
			}

			if offline {
				printWarn(out, "Telegram", "skipped (--offline)")
				warned++
			} else {
				botName, chatTitle, err := channel.CheckTelegram(cfg.Telegram.Token, cfg.Telegram.FeedbackChannelID)
				if botName != "" {
					printPass(out, "Bot token", "@"+botName)
					passed++
				}
				if err != nil {
					printFail(out, "Telegram", err.Error())
					failed++
				} else {
					printPass(out, "Feedback channel", chatTitle)
					passed++
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					printWarn(out, "Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass(out, "Metrics address", cfg.Metrics.Addr+" available")
					passed++
				}
			}

			if cfg.Log.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
					printWarn(out, "Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass(out, "Log file", cfg.Log.File)
					passed++
				}
			}

			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Fprintf(out, "\nPlease fix the failed checks before running linkbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Fprintf(out, "\nlinkbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(out, "\nAll checks passed! linkbot is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the Telegram API checks")
	return cmd
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}
