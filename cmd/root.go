package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/timeentry-reconciler/internal/config"
	"github.com/Tiliavir/timeentry-reconciler/internal/dataverse"
	"github.com/Tiliavir/timeentry-reconciler/internal/logging"
	"github.com/Tiliavir/timeentry-reconciler/internal/reconcile"
	"github.com/Tiliavir/timeentry-reconciler/internal/storage"
)

var (
	configPath string
	logLevel   string
	storeKind  string
)

// app is the state shared by all subcommands, built once per invocation.
var app struct {
	cfg config.Config
	log zerolog.Logger
}

var rootCmd = &cobra.Command{
	Use:   "ter",
	Short: "Time entry reconciler – one time entry per free calendar day",
	Long: `ter expands a multi-day time entry into one entry per calendar day for its
bookable resource, skipping days that are already booked.

Entries are kept as JSON files in ~/.ter/data or in a Dynamics 365 Dataverse
environment.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.ter/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "Time entry store: file or dataverse")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.FilePath(); err != nil {
			return err
		}
	}
	if storeKind != "" {
		os.Setenv("TER_STORE", storeKind)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	app.cfg = cfg
	app.log = logging.New(cfg.Log, cmd.ErrOrStderr())
	app.log.Debug().Str("config", path).Str("store", cfg.Store).Msg("configuration loaded")
	return nil
}

// dataDir returns the configured file store directory.
func dataDir() (string, error) {
	if app.cfg.DataDir != "" {
		return filepath.Clean(app.cfg.DataDir), nil
	}
	return storage.BaseDir()
}

// openStore builds the store selected in the configuration.
func openStore(cmd *cobra.Command) (reconcile.Store, error) {
	switch app.cfg.Store {
	case config.StoreDataverse:
		dv := app.cfg.Dataverse
		httpClient, err := dataverse.HTTPClient(cmd.Context(), dataverse.Credentials{
			URL:          dv.URL,
			TenantID:     dv.TenantID,
			ClientID:     dv.ClientID,
			ClientSecret: dv.ClientSecret,
		}, cmd.ErrOrStderr(), app.log)
		if err != nil {
			return nil, fmt.Errorf("dataverse authentication failed: %w", err)
		}
		return dataverse.NewClient(httpClient, dv.URL), nil
	default:
		base, err := dataDir()
		if err != nil {
			return nil, err
		}
		return storage.New(base), nil
	}
}

// fileBase returns the file store directory, failing for remote stores.
func fileBase() (string, error) {
	if app.cfg.Store != config.StoreFile {
		return "", fmt.Errorf("this command reads the file store; store %q is not supported", app.cfg.Store)
	}
	return dataDir()
}

// newReconciler builds a Reconciler over the configured store and policy.
func newReconciler(cmd *cobra.Command) (*reconcile.Reconciler, error) {
	store, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	norm, err := app.cfg.Normalizer()
	if err != nil {
		return nil, err
	}
	return reconcile.New(store,
		reconcile.WithNormalizer(norm),
		reconcile.WithSameDayCheck(app.cfg.CheckSameDay),
		reconcile.WithLogger(app.log),
	), nil
}
