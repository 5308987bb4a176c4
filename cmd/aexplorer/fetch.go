package aexplorer

import (
	"fmt"
	"strconv"

	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/manifest-network/aexplorer/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the chain top and the node version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := newStore(v, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		status, err := st.GetNodeStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get node status: %w", err)
		}
		return printJSON(cmd, status)
	},
}

var heightCmd = &cobra.Command{
	Use:   "height",
	Short: "Show the current chain height",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := newStore(v, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		height, err := st.FetchHeight(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get height: %w", err)
		}
		return printJSON(cmd, map[string]uint64{"height": height})
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <hash|height>",
	Short: "Show a key-block or micro-block",
	Long:  "Show a block by height (key-block) or by hash. Micro-block hashes include the block's transactions.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := utils.ParseBlockID(args[0])
		if err != nil {
			return err
		}
		st, _, err := newStore(v, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		var block *models.Block
		if id.IsHeight {
			block, err = st.GetBlockFromHeight(cmd.Context(), id.Height)
		} else {
			block, err = st.GetBlockFromHash(cmd.Context(), id.Hash)
		}
		if err != nil {
			return fmt.Errorf("failed to get block %s: %w", args[0], err)
		}
		return printJSON(cmd, block)
	},
}

var generationCmd = &cobra.Command{
	Use:   "generation <hash|height>",
	Short: "Show a generation with its micro-blocks and transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := utils.ParseBlockID(args[0])
		if err != nil {
			return err
		}
		st, _, err := newStore(v, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		var generation *models.Generation
		if id.IsHeight {
			generation, err = st.GetGenerationFromHeight(cmd.Context(), id.Height)
		} else {
			generation, err = st.GetGenerationFromHash(cmd.Context(), id.Hash)
		}
		if err != nil {
			return fmt.Errorf("failed to get generation %s: %w", args[0], err)
		}
		return printJSON(cmd, generation)
	},
}

var latestSize int

var latestCmd = &cobra.Command{
	Use:       "latest <blocks|generations>",
	Short:     "Show the latest key-blocks or generations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"blocks", "generations"},
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := newStore(v, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		if args[0] == "blocks" {
			blocks, err := st.GetLatestBlocks(cmd.Context(), latestSize)
			if err != nil {
				return fmt.Errorf("failed to get latest blocks: %w", err)
			}
			return printJSON(cmd, blocks)
		}
		generations, err := st.GetLatestGenerations(cmd.Context(), latestSize)
		if err != nil {
			return fmt.Errorf("failed to get latest generations: %w", err)
		}
		return printJSON(cmd, generations)
	},
}

var rangeSize int

var rangeCmd = &cobra.Command{
	Use:   "range <height>",
	Short: "Show the key-blocks ending at height",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		height, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid height %q: %w", args[0], err)
		}
		st, _, err := newStore(v, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		blocks, err := st.AddBlocksByHeightAndSize(cmd.Context(), height, rangeSize)
		if err != nil {
			return fmt.Errorf("failed to get blocks: %w", err)
		}
		return printJSON(cmd, blocks)
	},
}

func init() {
	latestCmd.Flags().IntVar(&latestSize, "size", 10, "Number of entries")
	rangeCmd.Flags().IntVar(&rangeSize, "size", 10, "Number of key-blocks")
}
