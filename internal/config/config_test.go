package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations for the settings.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Nil configuration.
	require.Error(t, Validate(nil))

	// Missing store directories.
	require.Error(t, Validate(&Config{SymlinkDir: "/etc/extensions"}))

	// Missing symlink directory.
	require.Error(t, Validate(&Config{OEMDir: "/oem/sysext", RootDir: "/var/lib/sysext"}))

	// Release domain must be a bare host.
	cfg := Default()
	cfg.ReleaseDomain = "https://release.example.com"
	require.Error(t, Validate(cfg))

	// Cache URL must parse.
	cfg = Default()
	cfg.CacheURL = "::not-a-url"
	require.Error(t, Validate(cfg))

	// Defaults are valid and fill the verification binary.
	cfg = Default()
	cfg.GPGPath = ""
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultGPGPath, cfg.GPGPath)

	// Empty endpoints are fine for offline hosts.
	cfg = Default()
	cfg.ReleaseDomain = ""
	cfg.CacheURL = ""
	require.NoError(t, Validate(cfg))
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := Default()
	cfg.CacheURL = "https://mirror.local/images"
	cfg.OEMDir = filepath.Join(dir, "oem")
	cfg.RootDir = filepath.Join(dir, "root")

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.CacheURL, loaded.CacheURL)
	require.Equal(t, cfg.OEMDir, loaded.OEMDir)
	require.Equal(t, cfg.RootDir, loaded.RootDir)

	// File exists with restricted permissions.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoadMergesDefaults ensures a partial settings file keeps defaults for
// fields it does not mention.
func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_url: https://mirror.local/x\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://mirror.local/x", cfg.CacheURL)
	require.Equal(t, DefaultOEMDir, cfg.OEMDir)
	require.Equal(t, DefaultSymlinkDir, cfg.SymlinkDir)
}

// TestLoadMissingExplicitPath ensures a named but absent file is an error.
func TestLoadMissingExplicitPath(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// TestMigrationManifest checks the manifest location for an OEM id.
func TestMigrationManifest(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, filepath.Join(DefaultOEMDir, "migrate-qemu.conf"), cfg.MigrationManifest("qemu"))
}
