package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var pruneThreshold float64

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove proxies whose success rate is below a threshold",
	Run:   runPrune,
}

func init() {
	pruneCmd.Flags().Float64Var(&pruneThreshold, "threshold", 0, "success rate below which a proxy is removed (default from config)")
	pruneCmd.Flags().StringVar(&adminAddr, "addr", "", "admin address of a running instance (e.g. localhost:8080)")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if adminAddr != "" {
		setupLogging(defaultLogging())
		path := "/proxies/prune"
		if pruneThreshold > 0 {
			path += "?threshold=" + strconv.FormatFloat(pruneThreshold, 'f', -1, 64)
		}
		body, err := postAdmin(ctx, path)
		if err != nil {
			slog.Error("Failed to prune proxies", "error", err)
			os.Exit(1)
		}
		fmt.Println(body)
		return
	}

	cfg, app := openOffline(ctx)
	if app.Store() == nil {
		app.Close()
		slog.Error("No snapshot backend configured, nothing to prune. Use --addr for a running instance")
		os.Exit(1)
	}

	threshold := pruneThreshold
	if threshold <= 0 {
		threshold = cfg.Maintenance.PruneThreshold
	}
	removed := app.Controller().PruneFailing(threshold)
	if err := app.Stop(ctx); err != nil {
		slog.Error("Failed to save snapshot", "error", err)
		os.Exit(1)
	}
	slog.Info("Pruned proxies", "threshold", threshold, "removed", removed)
}
