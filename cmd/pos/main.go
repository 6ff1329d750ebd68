// Command pos is the terminal-side agent: it activates the device against
// the central server, runs the background sync loop for the local point of
// sale database, and reports sync status.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dukkanpos/internal/deviceconfig"
)

type rootOptions struct {
	ConfigPath string
	DBPath     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pos",
		Short:         "Offline-first point of sale terminal agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigPath == "" {
				path, err := deviceconfig.DefaultPath()
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				opts.ConfigPath = path
			}
			if opts.DBPath == "" {
				opts.DBPath = filepath.Join(filepath.Dir(opts.ConfigPath), "pos.db")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to the device config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to the local SQLite database")

	cmd.AddCommand(newActivateCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))

	return cmd
}
