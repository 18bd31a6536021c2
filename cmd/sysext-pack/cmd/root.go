package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/krishjainx/bootengine/internal/logger"
	"github.com/krishjainx/bootengine/internal/service/packer"
	"github.com/krishjainx/bootengine/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

var (
	// name is the extension slot the image is built for.
	name string
	// osVersion is the OS release the image targets.
	osVersion string
	// legacy marks the image as a factory initial build.
	legacy bool
	// outputDir is where the image is written.
	outputDir string
	// signingKey selects the gpg key for the detached signature.
	signingKey string
	// gpgHome is an optional gpg home directory override.
	gpgHome string
	// logLevel adjusts logging verbosity.
	logLevel string

	// rootCmd represents the base command for building extension images.
	rootCmd = &cobra.Command{
		Use:   "sysext-pack [input-dir]",
		Short: "Build a distributable extension image from a directory tree",
		Long: `Packs a directory tree into an extension image with the description
entry hosts use to identify it, and optionally signs the result.

The image is named <name>-<os-version>.raw, or <name>-initial.raw for
factory legacy builds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := applyLogLevel(); err != nil {
				return err
			}

			options := &packer.Options{
				InputDir:   args[0],
				Name:       name,
				OSVersion:  osVersion,
				Legacy:     legacy,
				OutputDir:  outputDir,
				SigningKey: signingKey,
				GPGHome:    gpgHome,
			}

			return packer.Run(ctx, options)
		},
	}
)

// Execute runs the sysext-pack CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&name, "name", "n", "", "extension slot name, e.g. oem-qemu or zfs")
	rootCmd.Flags().StringVar(&osVersion, "os-version", "", "OS release the image targets")
	rootCmd.Flags().BoolVar(&legacy, "legacy", false, "mark the image as a factory initial build")
	rootCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory to write the image to")
	rootCmd.Flags().StringVar(&signingKey, "sign-key", "", "gpg key id to sign the image with")
	rootCmd.Flags().StringVar(&gpgHome, "gpg-home", "", "gpg home directory holding the signing key")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
}
