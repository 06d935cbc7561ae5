// Package cmd implements the nfcard command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nedpals/nfcard/buildinfo"
	"github.com/nedpals/nfcard/internal/config"
	"github.com/nedpals/nfcard/internal/observability"
	"github.com/nedpals/nfcard/nfc"
)

type contextKey struct{}

var configKey = contextKey{}

// NewRootCmd builds the command tree. Each call returns fresh commands and
// flags.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	root := &cobra.Command{
		Use:           buildinfo.Name,
		Short:         buildinfo.Description,
		Version:       buildinfo.FullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded",
				zap.String("version", buildinfo.FullVersion()),
				zap.String("config", v.ConfigFileUsed()),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./nfcard.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	_ = v.BindPFlag("logger.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("logger.format", flags.Lookup("log-format"))
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(v),
		newReadCmd(),
		newDevicesCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

// configFrom returns the configuration loaded by the root command, or the
// defaults when the command runs outside of it.
func configFrom(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
		return cfg
	}
	return config.NewDefaultConfig()
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger) *nfc.Orchestrator {
	return nfc.NewOrchestrator(
		nfc.WithEventSink(observability.NewEventLogger(logger)),
		nfc.WithQueueSize(cfg.Engine.QueueSize),
		nfc.WithTechnologyTimeout(cfg.Engine.TechnologyTimeout),
	)
}
