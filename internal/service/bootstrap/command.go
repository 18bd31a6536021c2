package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/domain/sysext"
	"github.com/krishjainx/bootengine/internal/logger"
	"github.com/krishjainx/bootengine/internal/service/extsync"
	"github.com/krishjainx/bootengine/internal/service/fetcher"
	"github.com/krishjainx/bootengine/internal/service/migrator"
	"github.com/krishjainx/bootengine/internal/service/placer"
	"github.com/krishjainx/bootengine/internal/service/verifier"
)

// Environment fallbacks for the release identity flags.
const (
	versionEnvVar = "SYSEXT_OS_VERSION"
	boardEnvVar   = "SYSEXT_BOARD"
)

// Keys identifying the OEM flavor in the OEM release file.
const (
	oemIDKey      = "OEM_ID"
	fallbackIDKey = "ID"
)

var (
	errVersionRequired = errors.New("os version must be provided")
	errBoardRequired   = errors.New("board must be provided")
)

// Options are inputs accepted by the bootstrap entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// OSVersion is the running OS release. Empty falls back to the
	// SYSEXT_OS_VERSION environment variable.
	OSVersion string
	// Board is the hardware board identifier. Empty falls back to the
	// SYSEXT_BOARD environment variable.
	Board string
}

// runner holds the resolved settings and services for a single bootstrap
// execution.
type runner struct {
	cfg       *config.Config
	osVersion string
	board     string

	placer   *placer.Placer
	migrator *migrator.Runner
	syncer   *extsync.Syncer
}

// Run executes the provisioning flow and is the public entry point for
// the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sysext-bootstrap")

	r, err := newRunner(opts)
	if err != nil {
		return err
	}

	if err = r.run(ctx); err != nil {
		logger.ErrorKV(ctx, "Bootstrap run failed", "error", err)
		return err
	}

	logger.Info(ctx, "Bootstrap completed")

	return nil
}

// newRunner loads the settings, resolves the release identity, and wires
// the services.
func newRunner(opts *Options) (*runner, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	osVersion, err := resolveValue(opts.OSVersion, versionEnvVar, errVersionRequired)
	if err != nil {
		return nil, err
	}

	board, err := resolveValue(opts.Board, boardEnvVar, errBoardRequired)
	if err != nil {
		return nil, err
	}

	acq := newAcquirer(cfg)

	return &runner{
		cfg:       cfg,
		osVersion: osVersion,
		board:     board,
		placer:    placer.New(cfg, acq),
		migrator:  migrator.New(cfg),
		syncer:    extsync.New(cfg, acq),
	}, nil
}

// resolveValue picks the flag value when given, otherwise the environment
// variable.
func resolveValue(flagValue, envVar string, missing error) (string, error) {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value, nil
	}

	if value := strings.TrimSpace(os.Getenv(envVar)); value != "" {
		return value, nil
	}

	return "", fmt.Errorf("flag unset and %s empty: %w", envVar, missing)
}

// run executes the provisioning steps in order: the OEM extension, its
// migration manifest, then the user-enabled extensions.
func (r *runner) run(ctx context.Context) error {
	logger.InfoKV(ctx, "Provisioning extensions",
		"version", r.osVersion,
		"board", r.board)

	oemID := r.readOEMID(ctx)
	if oemID == "" {
		logger.Info(ctx, "No OEM id, skipping the OEM extension")
	} else {
		if err := r.placeOEM(ctx, oemID); err != nil {
			return err
		}

		r.migrator.RunIfPresent(ctx, oemID)
	}

	return r.syncExtensions(ctx)
}

// readOEMID extracts the OEM flavor from the OEM release file. Hosts
// without the file have no OEM extension to provision.
func (r *runner) readOEMID(ctx context.Context) string {
	values, err := config.ReadKeyValueFile(r.cfg.OEMReleaseFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug(ctx, "No OEM release file present")
		} else {
			logger.WarnKV(ctx, "Could not read OEM release file",
				"path", r.cfg.OEMReleaseFile,
				"error", err)
		}

		return ""
	}

	if oemID := values[oemIDKey]; oemID != "" {
		return oemID
	}

	return values[fallbackIDKey]
}

// placeOEM provisions the OEM partition extension for this boot.
func (r *runner) placeOEM(ctx context.Context, oemID string) error {
	artifact := &sysext.Artifact{
		Name:    sysext.OEMSlot(oemID),
		Version: r.osVersion,
		Board:   r.board,
	}

	if _, err := r.placer.Resolve(ctx, artifact); err != nil {
		if isFatal(err) {
			return fmt.Errorf("place OEM extension: %w", err)
		}

		logger.ErrorKV(ctx, "OEM extension left unplaced, continuing degraded",
			"slot", artifact.Name,
			"error", err)
	}

	return nil
}

// syncExtensions provisions the user-enabled extensions.
func (r *runner) syncExtensions(ctx context.Context) error {
	if err := r.syncer.Sync(ctx, r.osVersion, r.board); err != nil {
		if isFatal(err) {
			return fmt.Errorf("sync enabled extensions: %w", err)
		}

		logger.ErrorKV(ctx, "Enabled extensions not fully synced, continuing degraded",
			"error", err)
	}

	return nil
}

// isFatal reports whether an error aborts provisioning. Failed downloads
// and rejected signatures abort; placement trouble does not.
func isFatal(err error) bool {
	return errors.Is(err, fetcher.ErrDownloadFailed) ||
		errors.Is(err, verifier.ErrVerificationFailed)
}
