package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"echo-civic-assistant/backend/internal/assistant"
	"echo-civic-assistant/backend/internal/storage"

	"github.com/spf13/cobra"
)

var (
	historyJSON bool
	clearYes    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear a stored conversation",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored conversation",
	Args:  cobra.NoArgs,
	RunE:  runHistoryShow,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored conversation",
	Long:  "Delete the stored conversation. Requires --yes.",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

func init() {
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Print the raw JSON array")
	historyClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Confirm deletion")
}

func historyKey() string {
	return assistant.StorageKey(loadConfig().Assistant.StorageKey, userID)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := storage.OpenSQLite(loadConfig().SQLite.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	messages, err := store.Load(cmdContext(cmd), historyKey())
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(out, "No stored conversation for %s.\n", userID)
		return nil
	}
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(messages)
	}
	for _, m := range messages {
		fmt.Fprintf(out, "[%s] ", m.Timestamp.Format("2006-01-02 15:04"))
		printMessage(out, m)
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return errors.New("refusing to clear without --yes")
	}
	store, err := storage.OpenSQLite(loadConfig().SQLite.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(cmdContext(cmd), historyKey()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared conversation for %s.\n", userID)
	return nil
}
