package verifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/krishjainx/bootengine/internal/config"
)

// writeStubGPG writes a shell script standing in for the gpg binary.
func writeStubGPG(t *testing.T, script string) string {
	t.Helper()

	stubPath := filepath.Join(t.TempDir(), "gpg")
	require.NoError(t, os.WriteFile(stubPath, []byte("#!/bin/sh\n"+script), 0o755))

	return stubPath
}

// rejectingGPG accepts the key import and fails the verify call.
const rejectingGPG = `for arg in "$@"; do
  if [ "$arg" = "--verify" ]; then
    echo "gpg: BAD signature" >&2
    exit 1
  fi
done
exit 0
`

func writeArtifacts(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "zfs-4152.2.0.raw")
	signaturePath := imagePath + ".sig"

	require.NoError(t, os.WriteFile(imagePath, []byte("image"), 0o600))
	require.NoError(t, os.WriteFile(signaturePath, []byte("signature"), 0o600))

	return imagePath, signaturePath
}

func newTestVerifier(t *testing.T, gpgScript string) *Verifier {
	t.Helper()

	return New(&config.Config{
		GPGPath:       writeStubGPG(t, gpgScript),
		InstallerPath: writeInstaller(t, "04126D0A2CA44D85"),
	})
}

func TestVerifySuccessRemovesSignature(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t, "exit 0\n")
	imagePath, signaturePath := writeArtifacts(t)

	require.NoError(t, v.Verify(context.Background(), imagePath, signaturePath))

	_, err := os.Stat(imagePath)
	require.NoError(t, err, "the verified image must survive")

	_, err = os.Stat(signaturePath)
	require.ErrorIs(t, err, os.ErrNotExist, "the signature must be removed after verification")
}

func TestVerifyFailureRemovesBoth(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t, rejectingGPG)
	imagePath, signaturePath := writeArtifacts(t)

	err := v.Verify(context.Background(), imagePath, signaturePath)
	require.ErrorIs(t, err, ErrVerificationFailed)
	require.ErrorContains(t, err, "BAD signature")

	_, err = os.Stat(imagePath)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(signaturePath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerifyMissingSignature(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t, "exit 0\n")

	imagePath := filepath.Join(t.TempDir(), "zfs-4152.2.0.raw")
	require.NoError(t, os.WriteFile(imagePath, []byte("image"), 0o600))

	err := v.Verify(context.Background(), imagePath, imagePath+".sig")
	require.ErrorIs(t, err, ErrVerificationFailed)

	_, err = os.Stat(imagePath)
	require.ErrorIs(t, err, os.ErrNotExist, "an unverifiable image must not survive")
}

func TestVerifyBrokenInstaller(t *testing.T) {
	t.Parallel()

	installerPath := filepath.Join(t.TempDir(), "os-install")
	require.NoError(t, os.WriteFile(installerPath, []byte("no key here"), 0o755))

	v := New(&config.Config{
		GPGPath:       writeStubGPG(t, "exit 0\n"),
		InstallerPath: installerPath,
	})

	imagePath, signaturePath := writeArtifacts(t)

	err := v.Verify(context.Background(), imagePath, signaturePath)
	require.ErrorIs(t, err, ErrVerificationFailed)
}
