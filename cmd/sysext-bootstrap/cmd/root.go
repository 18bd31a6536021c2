package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/logger"
	"github.com/krishjainx/bootengine/internal/service/bootstrap"
	"github.com/krishjainx/bootengine/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

var (
	// configPath to the configuration YAML file.
	configPath string
	// osVersion is the OS release to provision extension images for.
	osVersion string
	// board is the hardware board identifier.
	board string
	// logLevel adjusts logging verbosity.
	logLevel string

	// rootCmd represents the base command that provisions extension images.
	rootCmd = &cobra.Command{
		Use:   "sysext-bootstrap",
		Short: "Provision OEM and user extension images for this boot",
		Long: `Places the extension images the running OS release needs and points the
activation symlinks at them.

The OEM partition extension is located on disk or downloaded and verified,
preferring the OEM partition as its home with the root partition as
fallback. A pending migration manifest is applied afterwards, then the
user-enabled extensions are synchronized the same way. The OS version and
board are taken from the flags or from the SYSEXT_OS_VERSION and
SYSEXT_BOARD environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := applyLogLevel(); err != nil {
				return err
			}

			options := &bootstrap.Options{
				ConfigPath: configPath,
				OSVersion:  osVersion,
				Board:      board,
			}

			return bootstrap.Run(ctx, options)
		},
	}
)

// Execute runs the sysext-bootstrap CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func applyLogLevel() error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("%q: %w", logLevel, errUnknownLogLevel)
	}

	logger.SetLevel(level)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to configuration file")
	rootCmd.Flags().StringVar(&osVersion, "os-version", "", "OS release to provision for (env SYSEXT_OS_VERSION)")
	rootCmd.Flags().StringVar(&board, "board", "", "hardware board identifier (env SYSEXT_BOARD)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
}
