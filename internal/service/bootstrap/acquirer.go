package bootstrap

import (
	"context"
	"os/exec"
	"strings"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/domain/sysext"
	"github.com/krishjainx/bootengine/internal/logger"
	"github.com/krishjainx/bootengine/internal/service/fetcher"
	"github.com/krishjainx/bootengine/internal/service/verifier"
)

// acquirer downloads and verifies images on demand for the placement
// services, bringing networking up before the first download of a boot.
type acquirer struct {
	cfg      *config.Config
	fetcher  *fetcher.Fetcher
	verifier *verifier.Verifier

	networkReady bool
}

func newAcquirer(cfg *config.Config) *acquirer {
	return &acquirer{
		cfg:      cfg,
		fetcher:  fetcher.New(cfg),
		verifier: verifier.New(cfg),
	}
}

// Acquire downloads the artifact into destDir and authenticates it,
// returning the path of the verified image.
func (a *acquirer) Acquire(ctx context.Context, artifact *sysext.Artifact, destDir string) (string, error) {
	a.ensureNetwork(ctx)

	result, err := a.fetcher.Fetch(ctx, artifact, destDir)
	if err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Artifact downloaded",
		"image", artifact.FileName(),
		"source", result.Source,
		"sha256", result.SHA256)

	if err = a.verifier.Verify(ctx, result.ImagePath, result.SignaturePath); err != nil {
		return "", err
	}

	return result.ImagePath, nil
}

// ensureNetwork runs the configured network-up hook, at most once per
// process. Hook failures are logged, not returned.
func (a *acquirer) ensureNetwork(ctx context.Context) {
	if a.networkReady {
		return
	}

	a.networkReady = true

	command := strings.Fields(a.cfg.NetworkUpCommand)
	if len(command) == 0 {
		return
	}

	output, err := exec.CommandContext(ctx, command[0], command[1:]...).CombinedOutput()
	if err != nil {
		logger.WarnKV(ctx, "Network-up hook failed",
			"command", a.cfg.NetworkUpCommand,
			"output", strings.TrimSpace(string(output)),
			"error", err)

		return
	}

	logger.Debug(ctx, "Network-up hook completed")
}
