package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nedpals/nfcard/internal/observability"
	"github.com/nedpals/nfcard/nfc/capture"
)

func newReadCmd() *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "read FILE...",
		Short: "Read captured tags through the engine and print their reports",
		Long: `Read decodes each JSON capture file, runs it through the engine and
prints one JSON report per file. Use "-" to read a capture from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd.Context())
			logger := observability.GetLogger()

			orch := newOrchestrator(cfg, logger)
			defer orch.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}

			for _, path := range args {
				c, err := loadCapture(path, cmd.InOrStdin())
				if err != nil {
					return err
				}
				session, err := capture.NewSession(c, "file:"+path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				report, err := orch.Read(cmd.Context(), session)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				observability.LogReport(logger, report)
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
			}
			logger.Debug("Read complete", zap.Int("files", len(args)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	return cmd
}

func loadCapture(path string, stdin io.Reader) (*capture.Capture, error) {
	if path == "-" {
		c, err := capture.Decode(stdin)
		if err != nil {
			return nil, fmt.Errorf("stdin: %w", err)
		}
		return c, nil
	}
	return capture.LoadFile(path)
}
