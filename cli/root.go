// Package cli implements the giftlist command line session: it reads and edits
// the gift list through the record store and talks to the update coordinator.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fenilmodi00/giftlist-backend/config"
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	StoreURL     string
	SessionURL   string
	TaxonomyPath string
	Transport    string // "opaque" | "cors"
	Format       string // "text" | "json"
	LogLevel     string
	LogFile      string
	Timeout      time.Duration

	databaseURL string
	tuning      *shared.UnifiedConfiguration
	sync        *config.SyncConfig
	taxonomy    *services.StatusTaxonomy
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Flag defaults come from the environment.
func NewRootCommand() *cobra.Command {
	cfg := config.LoadConfig()
	opts := &RootOptions{databaseURL: cfg.DatabaseURL, tuning: cfg.Tuning, sync: cfg.GetSyncConfig()}

	cmd := &cobra.Command{
		Use:   "giftlist",
		Short: "Shared Christmas gift list",
		Long:  "Read and edit the shared gift list and manage the offline app generations.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.prepare()
		},
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.StoreURL, "store", cfg.StoreURL, "record store endpoint")
	cmd.PersistentFlags().StringVar(&opts.SessionURL, "session", cfg.SessionURL, "session hub websocket url")
	cmd.PersistentFlags().StringVar(&opts.TaxonomyPath, "taxonomy", cfg.TaxonomyPath, "status taxonomy YAML file")
	cmd.PersistentFlags().StringVar(&opts.Transport, "transport", cfg.StoreTransport, "save transport (opaque|cors)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", cfg.LogFile, "write logs to a rotated file instead of stderr")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", opts.sync.FetchTimeout, "bound on store and session requests")

	// Add subcommands
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewToggleCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDoctorCommand(opts))

	return cmd
}

func (o *RootOptions) prepare() error {
	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}
	if t := strings.ToLower(o.Transport); t != "opaque" && t != "cors" {
		return fmt.Errorf("invalid transport %q: must be opaque or cors", o.Transport)
	}

	logging := o.tuning.Logging
	logging.Level = o.LogLevel
	logging.Format = "text"
	logging.Output = "stderr"
	logging.File = o.LogFile
	logging.ServiceName = "giftlist-cli"
	shared.ConfigureLogging(logging)

	taxonomy, err := services.LoadStatusTaxonomy(o.TaxonomyPath)
	if err != nil {
		return err
	}
	o.taxonomy = taxonomy
	if o.Timeout > 0 {
		o.sync.FetchTimeout = o.Timeout
	}
	return nil
}

// newStore builds the record store client for this invocation
func (o *RootOptions) newStore() *services.StoreClient {
	storeConfig := services.NewDefaultStoreClientConfiguration()
	storeConfig.BaseURL = o.StoreURL
	storeConfig.FetchTimeout = o.sync.FetchTimeout
	storeConfig.Opaque = !strings.EqualFold(o.Transport, "cors")
	return services.NewStoreClient(storeConfig)
}

// newEngine builds a sync engine over a fresh store client
func (o *RootOptions) newEngine(sink services.ViewSink) (*services.SyncEngine, *services.StoreClient) {
	store := o.newStore()
	return services.NewSyncEngine(store, o.taxonomy, sink, o.sync), store
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
