package migrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/logger"
)

// Runner applies the one-shot migration manifest an OS update drops on
// the OEM partition. The manifest lists absolute paths of files the old
// update flow left behind.
type Runner struct {
	cfg *config.Config
}

// New returns a migration runner for the configured OEM partition.
func New(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// RunIfPresent removes the files listed in the OEM id's migration
// manifest, then the manifest itself. The manifest is read in full: an
// entry never seen is an entry never cleaned up, and the manifest is
// gone after this boot. A missing manifest means nothing to do. Failures
// are logged and never returned: migration is cleanup, not a
// precondition for the rest of provisioning.
func (r *Runner) RunIfPresent(ctx context.Context, oemID string) {
	manifestPath := r.cfg.MigrationManifest(oemID)

	entries, err := config.ReadLines(manifestPath, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug(ctx, "No migration manifest present")
			return
		}

		logger.WarnKV(ctx, "Could not read migration manifest",
			"path", manifestPath,
			"error", err)

		return
	}

	logger.InfoKV(ctx, "Applying migration manifest",
		"path", manifestPath,
		"entries", len(entries))

	for _, entry := range entries {
		if !filepath.IsAbs(entry) {
			logger.WarnKV(ctx, "Skipping non-absolute migration entry", "entry", entry)
			continue
		}

		if err = os.Remove(entry); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Could not remove migrated file",
				"path", entry,
				"error", err)
		}
	}

	if err = os.Remove(manifestPath); err != nil {
		logger.WarnKV(ctx, "Could not remove migration manifest",
			"path", manifestPath,
			"error", err)
	}
}
