package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/egress/internal/infra/storage/postgres"
)

var historyLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked domains and proxy health from the last snapshot",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&historyLimit, "history", 0, "also list this many stored snapshots (postgres backend)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg, app := openOffline(ctx)
	defer app.Close()

	if app.Store() == nil {
		slog.Warn("No snapshot backend configured, showing configured proxies only")
	}

	ctrl := app.Controller()
	rep := ctrl.Reputation()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DOMAIN\tSTATE\tSCORE\tREQUESTS\tBANS\tRECENT\tTREND")
	for _, name := range rep.Domains() {
		h := ctrl.DomainHealth(name)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d\t%d\t%s\n",
			name, h.State, h.Score, h.Requests, h.TotalBans, h.RecentBans, h.Trend)
	}
	_ = w.Flush()
	fmt.Println()

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PROXY\tCLASS\tCOUNTRY\tPOOLED\tREQUESTS\tSUCCESS\tAVG RESPONSE\tBLOCKED ON")
	for _, h := range ctrl.Registry().All() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%.1f%%\t%s\t%s\n",
			h.Descriptor.ID, h.Descriptor.Class, h.Descriptor.Country, h.Pooled,
			h.TotalRequests(), h.SuccessRatePct, h.AvgResponseTime.Round(time.Millisecond),
			strings.Join(h.BlockedSites, ","))
	}
	_ = w.Flush()

	stats := ctrl.Statistics()
	fmt.Printf("\nproxies=%d domains=%d abandoned=%d total_cost=%s\n",
		stats.TotalProxies, stats.TrackedDomains, len(stats.AbandonedDomains), stats.TotalCost.StringFixed(4))

	if historyLimit <= 0 {
		return
	}
	repo, ok := app.Store().(*postgres.SnapshotRepo)
	if !ok {
		slog.Warn("Snapshot history needs the postgres backend", "backend", cfg.Snapshot.Backend)
		return
	}
	infos, err := repo.List(ctx, historyLimit)
	if err != nil {
		slog.Error("Failed to list snapshots", "error", err)
		os.Exit(1)
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SNAPSHOT\tVERSION\tTAKEN\tBYTES")
	for _, info := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", info.ID, info.Version, info.TakenAt.Format(time.RFC3339), info.Size)
	}
	_ = w.Flush()
}
