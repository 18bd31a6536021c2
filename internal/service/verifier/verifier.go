package verifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/logger"
)

const (
	keyringDirPattern = "sysext-keyring-"
	keyFileName       = "signing-key.asc"

	keyringDirMode os.FileMode = 0o700
	keyFileMode    os.FileMode = 0o600
)

// ErrVerificationFailed means the image could not be authenticated and
// was discarded together with its signature.
var ErrVerificationFailed = errors.New("signature verification failed")

// Verifier authenticates downloaded images against the signing key
// embedded in the OS installer.
type Verifier struct {
	gpgPath       string
	installerPath string
}

// New returns a verifier using the configured gpg binary and installer.
func New(cfg *config.Config) *Verifier {
	return &Verifier{
		gpgPath:       cfg.GPGPath,
		installerPath: cfg.InstallerPath,
	}
}

// Verify checks the detached signature of an image. On success the
// signature file is removed and the image kept; on any failure both files
// are discarded and ErrVerificationFailed is returned.
func (v *Verifier) Verify(ctx context.Context, imagePath, signaturePath string) error {
	if err := v.verify(ctx, imagePath, signaturePath); err != nil {
		if discardErr := discardArtifacts(imagePath, signaturePath); discardErr != nil {
			logger.WarnKV(ctx, "Failed to discard rejected artifacts", "error", discardErr)
		}

		return fmt.Errorf("%s: %v: %w", imagePath, err, ErrVerificationFailed)
	}

	logger.InfoKV(ctx, "Image signature verified", "image", imagePath)

	if err := os.Remove(signaturePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove verified signature", "error", err)
	}

	return nil
}

// verify imports the installer's signing key into an ephemeral keyring
// and runs gpg against it. The keyring never outlives the call, so no
// host keyring state can influence the result.
func (v *Verifier) verify(ctx context.Context, imagePath, signaturePath string) error {
	if _, err := os.Stat(signaturePath); err != nil {
		return fmt.Errorf("signature missing: %w", err)
	}

	key, err := ExtractSigningKey(v.installerPath)
	if err != nil {
		return err
	}

	homeDir, err := os.MkdirTemp("", keyringDirPattern)
	if err != nil {
		return fmt.Errorf("create keyring home: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(homeDir)
	}()

	if err = os.Chmod(homeDir, keyringDirMode); err != nil {
		return fmt.Errorf("restrict keyring home: %w", err)
	}

	keyPath := filepath.Join(homeDir, keyFileName)
	if err = os.WriteFile(keyPath, []byte(key.Armored), keyFileMode); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}

	if output, importErr := v.runGPG(ctx,
		"--homedir", homeDir,
		"--batch",
		"--import", keyPath,
	); importErr != nil {
		return fmt.Errorf("import signing key: %s: %w", strings.TrimSpace(string(output)), importErr)
	}

	if output, verifyErr := v.runGPG(ctx,
		"--homedir", homeDir,
		"--batch",
		"--trusted-key", key.LongID,
		"--verify", signaturePath, imagePath,
	); verifyErr != nil {
		return fmt.Errorf("gpg verify: %s: %w", strings.TrimSpace(string(output)), verifyErr)
	}

	return nil
}

func (v *Verifier) runGPG(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, v.gpgPath, args...).CombinedOutput()
}

// discardArtifacts removes rejected files, collecting any removal errors.
func discardArtifacts(paths ...string) error {
	var errs error

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
