package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var resetDomainCmd = &cobra.Command{
	Use:   "reset-domain <domain>",
	Short: "Clear the reputation and ban history of a domain",
	Long: `Clear the reputation and ban history of a domain.

Without --addr the stored snapshot is edited and the reset is announced to
peers over Redis when configured. With --addr the running instance at that
address performs the reset.`,
	Args: cobra.ExactArgs(1),
	Run:  runResetDomain,
}

func init() {
	resetDomainCmd.Flags().StringVar(&adminAddr, "addr", "", "admin address of a running instance (e.g. localhost:8080)")
	rootCmd.AddCommand(resetDomainCmd)
}

func runResetDomain(cmd *cobra.Command, args []string) {
	name := args[0]
	ctx := context.Background()

	if adminAddr != "" {
		setupLogging(defaultLogging())
		body, err := postAdmin(ctx, "/domains/"+url.PathEscape(name)+"/reset")
		if err != nil {
			slog.Error("Failed to reset domain", "domain", name, "error", err)
			os.Exit(1)
		}
		fmt.Println(body)
		return
	}

	_, app := openOffline(ctx)
	if app.Store() == nil {
		app.Close()
		slog.Error("No snapshot backend configured, nothing to reset. Use --addr for a running instance")
		os.Exit(1)
	}

	found := app.Controller().ResetDomain(name)
	if err := app.Stop(ctx); err != nil {
		slog.Error("Failed to save snapshot", "error", err)
		os.Exit(1)
	}
	if !found {
		slog.Warn("Domain was not tracked", "domain", name)
		return
	}
	slog.Info("Domain reset", "domain", name)
}
