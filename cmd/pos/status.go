package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dukkanpos/internal/deviceconfig"
	"dukkanpos/internal/localstore"
	"dukkanpos/internal/syncclient"
)

func newStatusCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show activation, queue and connectivity status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			file := deviceconfig.NewFile(rootOpts.ConfigPath)
			cfg, err := file.Load()
			if err != nil {
				if errors.Is(err, deviceconfig.ErrNotActivated) {
					fmt.Fprintln(out, "activated: no")
					return nil
				}
				return err
			}

			fmt.Fprintln(out, "activated: yes")
			fmt.Fprintf(out, "device:    %s\n", cfg.DeviceID)
			fmt.Fprintf(out, "store:     %s (%s)\n", cfg.StoreName, cfg.StoreID)
			fmt.Fprintf(out, "endpoint:  %s\n", cfg.Endpoint)
			if cfg.LastSyncAt != nil {
				fmt.Fprintf(out, "last sync: %s\n", cfg.LastSyncAt.Format("2006-01-02 15:04:05 MST"))
			} else {
				fmt.Fprintln(out, "last sync: never")
			}

			store, err := localstore.Open(rootOpts.DBPath)
			if err != nil {
				return fmt.Errorf("open local database: %w", err)
			}
			defer func() { _ = store.Close() }()

			pending, err := store.PendingCount(cmd.Context())
			if err != nil {
				return fmt.Errorf("count pending operations: %w", err)
			}
			fmt.Fprintf(out, "pending:   %d operations\n", pending)

			if err := syncclient.New(cfg.Endpoint).Probe(cmd.Context()); err != nil {
				fmt.Fprintln(out, "server:    unreachable")
			} else {
				fmt.Fprintln(out, "server:    online")
			}
			return nil
		},
	}
}
