package extsync

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/domain/sysext"
	"github.com/krishjainx/bootengine/internal/logger"
	"github.com/krishjainx/bootengine/internal/repository/store"
)

const (
	// maxEnabledEntries caps how many extensions the enabled file may list.
	maxEnabledEntries = 256

	stagingDirPattern = "sysext-download-"
)

// Acquirer obtains a verified image for an artifact, staging it under
// destDir, and returns the path of the image file.
type Acquirer interface {
	Acquire(ctx context.Context, artifact *sysext.Artifact, destDir string) (string, error)
}

// Syncer makes the images of user-enabled extensions available in the
// root store and keeps their activation links current.
type Syncer struct {
	cfg       *config.Config
	rootStore *store.Store
	links     *store.Links
	acquirer  Acquirer
}

// New returns a syncer over the configured root store.
func New(cfg *config.Config, acquirer Acquirer) *Syncer {
	return &Syncer{
		cfg:       cfg,
		rootStore: store.New(cfg.RootDir),
		links:     store.NewLinks(cfg.SymlinkDir),
		acquirer:  acquirer,
	}
}

// Sync walks the enabled extensions list and ensures each named extension
// has an image for the given OS version in the root store, downloading
// missing ones. A host without the list has nothing enabled.
func (s *Syncer) Sync(ctx context.Context, osVersion, board string) error {
	names, err := config.ReadLines(s.cfg.EnabledFile, maxEnabledEntries)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug(ctx, "No enabled extensions list present")
			return nil
		}

		return fmt.Errorf("read enabled extensions: %w", err)
	}

	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}

		artifact := &sysext.Artifact{Name: name, Version: osVersion, Board: board}
		if err = s.syncOne(ctx, artifact); err != nil {
			return fmt.Errorf("sync extension %s: %w", name, err)
		}
	}

	return nil
}

// syncOne brings a single extension up to date. An extension whose image
// cannot be obtained loses its activation link, so a stale link never
// points into the void.
func (s *Syncer) syncOne(ctx context.Context, artifact *sysext.Artifact) error {
	fileName := artifact.FileName()

	if !s.rootStore.Has(fileName) {
		if err := s.fetchInto(ctx, artifact); err != nil {
			if removeErr := s.links.Remove(artifact.LinkName()); removeErr != nil {
				logger.WarnKV(ctx, "Could not remove link of unavailable extension",
					"slot", artifact.Name,
					"error", removeErr)
			}

			return err
		}
	}

	if err := s.links.Publish(artifact.LinkName(), s.rootStore.Path(fileName)); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Enabled extension synced",
		"slot", artifact.Name,
		"version", artifact.Version)

	return nil
}

// fetchInto downloads the artifact through a staging directory and
// installs it into the root store.
func (s *Syncer) fetchInto(ctx context.Context, artifact *sysext.Artifact) error {
	stagingDir, err := os.MkdirTemp("", stagingDirPattern)
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()

	imagePath, err := s.acquirer.Acquire(ctx, artifact, stagingDir)
	if err != nil {
		return err
	}

	if err = s.rootStore.Install(imagePath, artifact.FileName()); err != nil {
		return fmt.Errorf("install %s: %w", artifact.FileName(), err)
	}

	return nil
}
