package aexplorer

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/manifest-network/aexplorer/internal/api"
	"github.com/manifest-network/aexplorer/internal/config"
	"github.com/manifest-network/aexplorer/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the explorer HTTP API",
	Long: `Serve the explorer HTTP API and metrics. The chain state is refreshed whenever the node
URL changes, either through the API or through the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serveCfg, err := config.LoadServeConfig(v)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		st, _, err := newStore(v, reg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		watcherDone := st.Watch(ctx, serveCfg.LatestGenerations)
		watchConfigFile(st)
		go warmUp(ctx, st, serveCfg.LatestGenerations)

		err = api.NewServer(st, reg).ListenAndServe(ctx, serveCfg.Listen, serveCfg.CORSOrigins)
		<-watcherDone
		return err
	},
}

// watchConfigFile pushes node URL edits of the config file into the store.
func watchConfigFile(st *store.Store) {
	if cfgFile == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		nodeURL := v.GetString(config.KeyNodeURL)
		if err := st.ChangeBaseURL(nodeURL); err != nil {
			slog.Error("Ignoring invalid node URL from config file", "file", e.Name, "error", err)
		}
	})
	v.WatchConfig()
}

// warmUp loads the node status and the latest generations once at startup.
func warmUp(ctx context.Context, st *store.Store, latest int) {
	if _, err := st.GetNodeStatus(ctx); err != nil {
		slog.Error("Failed to get node status", "error", err)
	}
	if _, err := st.GetLatestGenerations(ctx, latest); err != nil {
		slog.Error("Failed to load latest generations", "error", err)
	}
}

func init() {
	serveCmd.Flags().String(config.KeyListen, ":8080", "HTTP listen address")
	serveCmd.Flags().StringSlice(config.KeyCORSOrigins, []string{"*"}, "Allowed CORS origins")
	serveCmd.Flags().Int(config.KeyLatestGenerations, store.DefaultLatestGenerations, "Generations reloaded when the node URL changes")
	bindFlags(serveCmd)
}
