package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gpkgparity/internal/config"
	"gpkgparity/internal/gpkg"
	"gpkgparity/internal/logging"
	"gpkgparity/internal/parity"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	layerName  string
	configPath string
	timeout    time.Duration

	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gpkgparity <path>",
	Short: "Add parity fields for every integer field of a GeoPackage layer",
	Long: `gpkgparity adds a text field "parity-<field>" for every integer field of a
vector layer stored in a GeoPackage and fills it with "even", "odd" or NULL.

All new fields and values are committed in one transaction: either the whole
run is saved or the file is left untouched.

Examples:
  gpkgparity data/city.gpkg
  gpkgparity "data/city.gpkg|layername=roads"
  gpkgparity --layer roads --quiet /path/to/your/layer.gpkg`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = os.Getenv(config.EnvConfigPath)
		}
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded

		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runParity,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print a line per feature")
	rootCmd.Flags().StringVar(&layerName, "layer", "", "Layer to process (default: first layer in the file)")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default: $"+config.EnvConfigPath+")")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort and roll back after this long (0 = no limit)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runParity processes the layer named by args[0].
func runParity(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	uri := args[0]
	fmt.Fprintln(out, "=== Processing vector layer ===")
	fmt.Fprintf(out, "File: %s\n", uri)
	fmt.Fprintf(out, "Creating '%s{field_name}' fields from the parity of every integer field\n", cfg.Processing.FieldPrefix)
	fmt.Fprintln(out)

	bootLog := logging.Get(logger, logging.CategoryBoot)
	rt, err := gpkg.NewRuntime(gpkg.Options{
		Driver:      cfg.Storage.Driver,
		BusyTimeout: cfg.GetBusyTimeout(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			bootLog.Warn("failed to release gpkg runtime", zap.Error(err))
		}
	}()

	processor := parity.NewProcessor(rt, parity.Options{
		Fields: parity.FieldSpec{
			Prefix: cfg.Processing.FieldPrefix,
			Length: cfg.Processing.FieldLength,
		},
		Workers:   cfg.Processing.Workers,
		Quiet:     quiet,
		LayerName: layerName,
	}, out, logger)

	report, err := processor.Run(ctx, uri)
	if err != nil {
		fmt.Fprintln(out, "\n=== Processing completed with errors! ===")
		return err
	}

	bootLog.Debug("run finished",
		zap.String("run_id", report.RunID),
		zap.String("layer", report.Layer),
		zap.Int("features", report.FeaturesProcessed),
		zap.Int("missing_values", report.MissingValues),
		zap.Int("not_integers", report.NotIntegers))
	fmt.Fprintln(out, "\n=== Processing completed successfully! ===")
	return nil
}
