package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dukkanpos/internal/deviceconfig"
	"dukkanpos/internal/domain"
	"dukkanpos/internal/syncclient"
)

func newActivateCommand(rootOpts *rootOptions) *cobra.Command {
	var endpoint string
	var code string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Register this terminal with the central server",
		Long: `Exchange a one-time activation code for a device identity and store
binding, persisted in the device config. Re-running with the same code is
safe: the server returns the same identity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if endpoint == "" || code == "" {
				return errors.New("--endpoint and --code are required")
			}

			file := deviceconfig.NewFile(rootOpts.ConfigPath)
			if existing, err := file.Load(); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "already activated as device %s (store %s)\n", existing.DeviceID, existing.StoreName)
				return nil
			}

			client := syncclient.New(endpoint)
			resp, err := client.Activate(cmd.Context(), domain.ActivateRequest{ActivationCode: code})
			if err != nil {
				return fmt.Errorf("activate: %w", err)
			}

			err = file.Save(deviceconfig.Config{
				Activated: true,
				Endpoint:  endpoint,
				DeviceID:  resp.DeviceID,
				StoreID:   resp.StoreID,
				StoreName: resp.StoreName,
			})
			if err != nil {
				return fmt.Errorf("save device config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "activated as device %s for store %q\n", resp.DeviceID, resp.StoreName)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "central server base URL")
	cmd.Flags().StringVar(&code, "code", "", "one-time activation code")

	return cmd
}
