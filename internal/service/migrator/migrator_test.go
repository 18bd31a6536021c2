package migrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/krishjainx/bootengine/internal/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.OEMDir = t.TempDir()

	return cfg
}

func TestRunIfPresentRemovesListedFiles(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)

	leftover := filepath.Join(t.TempDir(), "oem-setup.service")
	require.NoError(t, os.WriteFile(leftover, []byte("old unit"), 0o644))

	manifestPath := cfg.MigrationManifest("qemu")
	manifest := "# files replaced by the sysext flow\n" + leftover + "\n\n" +
		filepath.Join(t.TempDir(), "never-existed") + "\n"
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifest), 0o644))

	New(cfg).RunIfPresent(context.Background(), "qemu")

	_, err := os.Stat(leftover)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(manifestPath)
	require.ErrorIs(t, err, os.ErrNotExist, "the manifest must be consumed")
}

func TestRunIfPresentReadsLongManifestInFull(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)

	scratch := t.TempDir()
	listedLast := filepath.Join(scratch, "listed-last")
	require.NoError(t, os.WriteFile(listedLast, []byte("old file"), 0o644))

	var manifest strings.Builder
	for i := 0; i < 1500; i++ {
		fmt.Fprintf(&manifest, "%s/filler-%d\n", scratch, i)
	}

	manifest.WriteString(listedLast + "\n")

	manifestPath := cfg.MigrationManifest("qemu")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifest.String()), 0o644))

	New(cfg).RunIfPresent(context.Background(), "qemu")

	_, err := os.Stat(listedLast)
	require.ErrorIs(t, err, os.ErrNotExist, "late entries in a long manifest must still be removed")

	_, err = os.Stat(manifestPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunIfPresentWithoutManifest(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)

	New(cfg).RunIfPresent(context.Background(), "qemu")
}

func TestRunIfPresentSkipsRelativeEntries(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)

	manifestPath := cfg.MigrationManifest("azure")
	require.NoError(t, os.WriteFile(manifestPath, []byte("relative/path\n"), 0o644))

	New(cfg).RunIfPresent(context.Background(), "azure")

	_, err := os.Stat(manifestPath)
	require.ErrorIs(t, err, os.ErrNotExist, "skipped entries must not keep the manifest alive")
}
