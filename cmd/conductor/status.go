package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fentz26/conductor/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Open the live fleet dashboard",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	// The dashboard owns the terminal.
	log.SetOutput(io.Discard)

	var watcher *tui.SnapshotWatcher
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Snapshot), 0755); err == nil {
		watcher, err = tui.NewSnapshotWatcher(cfg.Paths.Snapshot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: snapshot changes will not be watched: %v\n", err)
		}
	}
	if watcher != nil {
		defer watcher.Close()
	}

	app := tui.New(apiAddr, cfg.Paths.Snapshot, watcher)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
