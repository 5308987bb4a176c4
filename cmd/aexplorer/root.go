package aexplorer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/manifest-network/aexplorer/internal/client"
	"github.com/manifest-network/aexplorer/internal/config"
	"github.com/manifest-network/aexplorer/internal/metrics"
	"github.com/manifest-network/aexplorer/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "aexplorer",
	Short: "Blockchain explorer state layer",
	Long:  "Fetch, cache and serve blocks, generations and chain height from a node HTTP API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(v, cfgFile); err != nil {
			return err
		}
		level, err := config.ParseLogLevel(v.GetString(config.KeyLogLevel))
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a config file")
	rootCmd.PersistentFlags().String(config.KeyNodeURL, "http://localhost:3013", "Node API base URL")
	rootCmd.PersistentFlags().Duration(config.KeyTimeout, 0, "Node API request timeout (0 uses the default)")
	rootCmd.PersistentFlags().Int(config.KeyClientRetries, 0, "Transport-level retries of node API requests")
	rootCmd.PersistentFlags().Int(config.KeyMaxConcurrency, 100, "Maximum concurrent node requests per operation")
	rootCmd.PersistentFlags().String(config.KeyLogLevel, "info", "Log level (debug, info, warn, error)")
	bindFlags(rootCmd)

	rootCmd.AddCommand(statusCmd, heightCmd, blockCmd, generationCmd, latestCmd, rangeCmd, serveCmd, extractCmd)
}

// bindFlags binds every persistent and local flag of cmd to the viper key of the same name.
func bindFlags(cmd *cobra.Command) {
	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command execution failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// newStore builds a store backed by a memoizing client accessor.
func newStore(v *viper.Viper, reg prometheus.Registerer) (*store.Store, *metrics.Metrics, error) {
	clientCfg, err := config.LoadClientConfig(v)
	if err != nil {
		return nil, nil, err
	}
	m := metrics.New(reg)
	accessor, err := client.NewAccessor(clientCfg.CacheSize, client.Options{
		Timeout:    clientCfg.Timeout,
		RetryCount: clientCfg.Retries,
		Metrics:    m,
	})
	if err != nil {
		return nil, nil, err
	}
	st := store.New(store.Options{
		BaseURL:        clientCfg.NodeURL,
		Clients:        accessor,
		Metrics:        m,
		MaxConcurrency: v.GetInt(config.KeyMaxConcurrency),
	})
	return st, m, nil
}

func printJSON(cmd *cobra.Command, value interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
