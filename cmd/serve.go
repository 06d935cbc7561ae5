package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nedpals/nfcard/internal/config"
	"github.com/nedpals/nfcard/internal/observability"
	"github.com/nedpals/nfcard/nfc"
	"github.com/nedpals/nfcard/nfc/libnfc"
	"github.com/nedpals/nfcard/server"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket agent and, when enabled, the local reader",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd.Context())
			return runServe(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	flags := cmd.Flags()
	flags.IntP("port", "p", 0, "port to listen on")
	flags.Bool("reader", false, "poll the local libnfc reader")
	flags.String("device", "", "libnfc connection string (default: first device)")
	flags.Bool("mdns", true, "advertise the agent over mDNS")
	_ = v.BindPFlag("server.port", flags.Lookup("port"))
	_ = v.BindPFlag("reader.enabled", flags.Lookup("reader"))
	_ = v.BindPFlag("reader.device", flags.Lookup("device"))
	_ = v.BindPFlag("server.mdns", flags.Lookup("mdns"))
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var dev *libnfc.Device
	if cfg.Reader.Enabled {
		var err error
		dev, err = libnfc.Open(cfg.Reader.Device, logger.Named("reader"))
		if err != nil {
			return fmt.Errorf("failed to open reader: %w", err)
		}
		defer dev.Close()
	}

	orch := newOrchestrator(cfg, logger)
	defer orch.Close()

	srv := server.New(cfg.Server, orch, server.WithLogger(logger))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if dev != nil {
		poller := libnfc.NewPoller(dev, orch,
			libnfc.WithInterval(cfg.Reader.PollInterval),
			libnfc.WithLogger(logger.Named("reader")),
			libnfc.WithReportHandler(func(report *nfc.TagReport) {
				srv.BroadcastReport(report)
			}),
		)
		g.Go(func() error {
			return poller.Run(ctx)
		})
	}

	return g.Wait()
}
