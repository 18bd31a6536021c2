package placer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/domain/sysext"
	"github.com/krishjainx/bootengine/internal/imagemeta"
	"github.com/krishjainx/bootengine/internal/logger"
	"github.com/krishjainx/bootengine/internal/repository/store"
)

const stagingDirPattern = "sysext-download-"

// Acquirer obtains a verified image for an artifact, staging it under
// destDir, and returns the path of the image file.
type Acquirer interface {
	Acquire(ctx context.Context, artifact *sysext.Artifact, destDir string) (string, error)
}

// Placer decides where an extension image lives and points the activation
// link at it. The OEM partition is the preferred home; the root store is
// the fallback when the OEM partition cannot take the image.
type Placer struct {
	oemStore  *store.Store
	rootStore *store.Store
	links     *store.Links
	acquirer  Acquirer
}

// New returns a placer over the configured store locations.
func New(cfg *config.Config, acquirer Acquirer) *Placer {
	return &Placer{
		oemStore:  store.New(cfg.OEMDir),
		rootStore: store.New(cfg.RootDir),
		links:     store.NewLinks(cfg.SymlinkDir),
		acquirer:  acquirer,
	}
}

// Resolve ensures the artifact's image is present in a store and that the
// slot's activation link points at it. Images already on disk win over
// downloads, and a version-pinned image wins over a factory legacy one.
func (p *Placer) Resolve(ctx context.Context, artifact *sysext.Artifact) (sysext.Placement, error) {
	placement := p.locate(ctx, artifact)

	if placement == sysext.PlacementAbsent {
		var err error

		placement, err = p.acquire(ctx, artifact)
		if err != nil {
			return sysext.PlacementAbsent, err
		}
	}

	if err := p.publish(artifact, placement); err != nil {
		return placement, fmt.Errorf("publish link for %s: %w", artifact.Name, err)
	}

	logger.InfoKV(ctx, "Extension image placed",
		"slot", artifact.Name,
		"version", artifact.Version,
		"placement", placement.String())

	return placement, nil
}

// locate finds the artifact among the images already on disk.
func (p *Placer) locate(ctx context.Context, artifact *sysext.Artifact) sysext.Placement {
	fileName := artifact.FileName()

	if p.oemStore.Has(fileName) {
		return sysext.PlacementOEM
	}

	if p.rootStore.Has(fileName) {
		return p.relocate(ctx, artifact)
	}

	legacyName := sysext.LegacyInitialName(artifact.Name)
	if p.oemStore.Has(legacyName) && p.isLegacyImage(ctx, p.oemStore.Path(legacyName)) {
		return sysext.PlacementLegacy
	}

	return sysext.PlacementAbsent
}

// relocate moves an image from the root store to the OEM partition, which
// earlier boots could not use. Failure keeps the root copy valid, so the
// move is retried on the next boot.
func (p *Placer) relocate(ctx context.Context, artifact *sysext.Artifact) sysext.Placement {
	p.reclaimStale(ctx, artifact)

	fileName := artifact.FileName()

	if err := p.oemStore.Adopt(p.rootStore.Path(fileName), fileName); err != nil {
		logger.WarnKV(ctx, "Could not relocate image to the OEM partition",
			"image", fileName,
			"error", err)

		return sysext.PlacementRoot
	}

	logger.InfoKV(ctx, "Relocated image to the OEM partition", "image", fileName)

	return sysext.PlacementOEM
}

// reclaimStale moves the previously active image off the OEM partition
// before a new version is adopted there, so the adoption does not run out
// of space. Best effort: a stale image that cannot move stays put.
func (p *Placer) reclaimStale(ctx context.Context, artifact *sysext.Artifact) {
	target, ok, err := p.links.Resolve(artifact.LinkName())
	if err != nil || !ok {
		return
	}

	if filepath.Dir(target) != p.oemStore.Dir() {
		return
	}

	staleName := filepath.Base(target)
	if staleName == artifact.FileName() || staleName == sysext.LegacyInitialName(artifact.Name) {
		return
	}

	if !p.oemStore.Has(staleName) {
		return
	}

	if err = p.rootStore.Adopt(target, staleName); err != nil {
		logger.WarnKV(ctx, "Could not move stale image off the OEM partition",
			"image", staleName,
			"error", err)

		return
	}

	logger.InfoKV(ctx, "Moved stale image to the root store", "image", staleName)
}

// isLegacyImage reports whether the file is an image marked as a factory
// legacy build. Unreadable files do not count.
func (p *Placer) isLegacyImage(ctx context.Context, imagePath string) bool {
	meta, err := imagemeta.Read(imagePath)
	if err != nil {
		logger.DebugKV(ctx, "Image carries no readable metadata",
			"image", imagePath,
			"error", err)

		return false
	}

	return meta.Legacy()
}

// acquire downloads the artifact and installs it. A download that marks
// itself as a factory legacy build goes to the OEM partition under the
// unversioned initial name; anything else is installed version-pinned,
// preferring the OEM partition. A store that cannot take the image is
// logged and skipped; when no store can, the artifact stays absent
// without an error.
func (p *Placer) acquire(ctx context.Context, artifact *sysext.Artifact) (sysext.Placement, error) {
	stagingDir, err := os.MkdirTemp("", stagingDirPattern)
	if err != nil {
		return sysext.PlacementAbsent, fmt.Errorf("create staging directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()

	imagePath, err := p.acquirer.Acquire(ctx, artifact, stagingDir)
	if err != nil {
		return sysext.PlacementAbsent, err
	}

	if p.isLegacyImage(ctx, imagePath) {
		return p.installLegacy(ctx, imagePath, artifact), nil
	}

	return p.installVersioned(ctx, imagePath, artifact), nil
}

// installLegacy places a downloaded factory image under the unversioned
// initial name. Legacy images live on the OEM partition only, so there is
// no root store fallback.
func (p *Placer) installLegacy(ctx context.Context, imagePath string, artifact *sysext.Artifact) sysext.Placement {
	legacyName := sysext.LegacyInitialName(artifact.Name)

	if err := p.oemStore.Install(imagePath, legacyName); err != nil {
		logger.ErrorKV(ctx, "Could not install legacy image on the OEM partition",
			"image", legacyName,
			"error", err)

		return sysext.PlacementAbsent
	}

	return sysext.PlacementLegacy
}

// installVersioned places a downloaded image under its version-pinned
// name, preferring the OEM partition with the root store as fallback.
func (p *Placer) installVersioned(ctx context.Context, imagePath string, artifact *sysext.Artifact) sysext.Placement {
	fileName := artifact.FileName()

	err := p.oemStore.Install(imagePath, fileName)
	if err == nil {
		return sysext.PlacementOEM
	}

	logger.WarnKV(ctx, "Could not install image on the OEM partition",
		"image", fileName,
		"error", err)

	if err = p.rootStore.Install(imagePath, fileName); err == nil {
		return sysext.PlacementRoot
	}

	logger.ErrorKV(ctx, "Could not install image in the root store",
		"image", fileName,
		"error", err)

	return sysext.PlacementAbsent
}

// publish points the slot's activation link at the placed image, or
// removes the link when the image is absent.
func (p *Placer) publish(artifact *sysext.Artifact, placement sysext.Placement) error {
	linkName := artifact.LinkName()

	switch placement {
	case sysext.PlacementOEM:
		return p.links.Publish(linkName, p.oemStore.Path(artifact.FileName()))
	case sysext.PlacementRoot:
		return p.links.Publish(linkName, p.rootStore.Path(artifact.FileName()))
	case sysext.PlacementLegacy:
		return p.links.Publish(linkName, p.oemStore.Path(sysext.LegacyInitialName(artifact.Name)))
	default:
		return p.links.Remove(linkName)
	}
}
