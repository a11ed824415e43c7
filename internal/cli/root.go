// Package cli holds the censo command tree.
package cli

import (
	"github.com/censo/censo/backend/go-services/internal/config"
	"github.com/censo/censo/backend/go-services/pkg/logger"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
	DeviceID string

	cfg *config.Config
}

// NewRootCommand creates the root command for the censo CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "censo",
		Short: "Census record synchronization service",
		Long: `censo keeps the daily hospital census record consistent between the
device-local cache and the shared record store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = opts.LogLevel
			}
			if opts.DeviceID != "" {
				cfg.Sync.DeviceID = opts.DeviceID
			}
			logger.Init(cfg.Log.Level)
			if cfg.Log.File != "" {
				logger.SetFile(logger.FileOptions{
					Path:       cfg.Log.File,
					MaxSizeMB:  cfg.Log.MaxSizeMB,
					MaxBackups: cfg.Log.MaxBackups,
					MaxAgeDays: cfg.Log.MaxAgeDays,
					Stdout:     true,
				})
			}
			logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.DeviceID, "device", "", "device id (overrides DEVICE_ID)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewPatchCommand(opts))

	return cmd
}
