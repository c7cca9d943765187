// Command echoctl talks to the civic assistant from a terminal: a local chat
// against the SQLite history, history maintenance, dev tokens and a remote
// WebSocket client.
package main

import (
	"context"
	"fmt"
	"os"

	"echo-civic-assistant/backend/pkg/config"
	"echo-civic-assistant/backend/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	dbPath   string
	userID   string
	logLevel string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "echoctl",
	Short: "Echo civic assistant from the terminal",
	Long: `echoctl runs the Echo civic assistant locally against a SQLite
history file, inspects or clears stored conversations, mints development
tokens and connects to a running server over WebSocket.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite history file (default: SQLITE_PATH or echo_history.db)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "local", "Conversation owner")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the persistent flags
func loadConfig() *config.Config {
	cfg := config.Load()
	if dbPath != "" {
		cfg.SQLite.Path = dbPath
	}
	cfg.Assistant.HistoryBackend = config.HistorySQLite
	return cfg
}

func newLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logLevel
	cfg.JSON = false
	return logger.New(cfg)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
