package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timeentry-reconciler/internal/hook"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the time entry hook over HTTP",
	Long: `Serve exposes POST /hooks/timeentry. The body is a time entry; the response
holds the entry to commit and the IDs of the entries created for the other
free days. Add ?commit=true to store the submitted entry as well.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	rec, err := newReconciler(cmd)
	if err != nil {
		return err
	}
	addr := serveListen
	if addr == "" {
		addr = app.cfg.Listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return hook.NewServer(rec, app.log).ListenAndServe(ctx, addr)
}
