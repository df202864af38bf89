package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feichai0017/pdf-image-extractor/config"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

var (
	cfgFile string
	verbose bool

	appConfig *config.Config
	appLogger logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pdfimages",
	Short: "Extract embedded images from PDF documents",
	Long: `pdfimages pulls every embedded raster image out of a PDF, converts them to one
target format, drops exact duplicates and packs the result into a ZIP archive.
Documents can be processed locally or submitted to the worker queue.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		log, err := logger.NewLogger(
			logger.FromConfig(cfg.Logger),
			logger.WithLevel(level),
			logger.WithEncoding("console"),
			logger.WithOutputPaths([]string{"stderr"}),
		)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		appConfig, appLogger = cfg, log
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
