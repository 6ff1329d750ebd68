package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dukkanpos/internal/deviceconfig"
	"dukkanpos/internal/domain"
	"dukkanpos/internal/localstore"
	"dukkanpos/internal/syncclient"
	"dukkanpos/internal/syncengine"
)

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	var interval time.Duration
	var username string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the background sync loop",
		Long: `Run the sync engine for an activated terminal: push queued sales,
refunds, stock adjustments and shift events to the central server and pull
catalog changes, on a timer, until interrupted.

Credentials come from --username and the POS_PASSWORD environment variable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := deviceconfig.NewFile(rootOpts.ConfigPath)
			cfg, err := file.Load()
			if err != nil {
				if errors.Is(err, deviceconfig.ErrNotActivated) {
					return errors.New("device is not activated; run `pos activate` first")
				}
				return err
			}

			password := os.Getenv("POS_PASSWORD")
			if username == "" || password == "" {
				return errors.New("--username and POS_PASSWORD are required")
			}

			store, err := localstore.Open(rootOpts.DBPath)
			if err != nil {
				return fmt.Errorf("open local database: %w", err)
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					log.Printf("close database: %v", closeErr)
				}
			}()

			client := syncclient.New(cfg.Endpoint)
			login, err := client.Login(cmd.Context(), domain.LoginRequest{Username: username, Password: password})
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			client.SetAuthToken(login.AccessToken)

			engine := syncengine.New(client, store, file, cfg.DeviceID, interval)

			parentCtx := cmd.Context()
			if parentCtx == nil {
				parentCtx = context.Background()
			}
			ctx, cancel := context.WithCancel(parentCtx)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					log.Printf("received %v, shutting down", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			log.Printf("sync loop started for device %s (store %q), interval %s", cfg.DeviceID, cfg.StoreName, interval)
			engine.Run(ctx)
			log.Println("sync loop stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", syncengine.DefaultInterval, "sync cycle interval")
	cmd.Flags().StringVar(&username, "username", "", "central account username")

	return cmd
}
