package aexplorer

import (
	"fmt"

	"github.com/manifest-network/aexplorer/internal/config"
	"github.com/manifest-network/aexplorer/internal/extractor"
	"github.com/manifest-network/aexplorer/internal/output/postgresql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract generations into an output",
}

var extractPostgresCmd = &cobra.Command{
	Use:   "postgres <dsn>",
	Short: "Extract generations and transactions into PostgreSQL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extractCfg, err := config.LoadExtractConfig(v)
		if err != nil {
			return err
		}
		dsn := args[0]

		if err := postgresql.Migrate(dsn); err != nil {
			return err
		}
		out, err := postgresql.NewPostgresOutputHandler(cmd.Context(), dsn)
		if err != nil {
			return err
		}
		defer out.Close()

		st, m, err := newStore(v, prometheus.NewRegistry())
		if err != nil {
			return err
		}

		if err := extractor.New(st, out, extractCfg, m).Run(cmd.Context()); err != nil {
			return fmt.Errorf("extraction failed: %w", err)
		}
		return nil
	},
}

func init() {
	extractPostgresCmd.Flags().Uint(config.KeyMaxRetries, 3, "Retries per generation")
	extractPostgresCmd.Flags().Uint(config.KeyBlockTime, 2, "Seconds between height polls in live mode")
	extractPostgresCmd.Flags().Uint64(config.KeyStart, 0, "First height to extract (default: resume from the output)")
	extractPostgresCmd.Flags().Uint64(config.KeyStop, 0, "Last height to extract (default: current height)")
	extractPostgresCmd.Flags().Bool(config.KeyLive, false, "Keep following the chain")
	extractPostgresCmd.Flags().Bool(config.KeyReindex, false, "Re-extract from the start height, ignoring existing output")
	bindFlags(extractPostgresCmd)
	extractCmd.AddCommand(extractPostgresCmd)
}
