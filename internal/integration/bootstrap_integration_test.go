package integration

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/imagemeta"
	"github.com/krishjainx/bootengine/internal/repository/store"
	"github.com/krishjainx/bootengine/internal/service/bootstrap"
	"github.com/krishjainx/bootengine/internal/service/fetcher"
	"github.com/krishjainx/bootengine/internal/service/verifier"
)

const testKeyID = "04126D0A2CA44D85"

// buildTestImage returns the bytes of a minimal tar.xz extension image.
func buildTestImage(t *testing.T, slot, versionID, tier string) []byte {
	t.Helper()

	var buf bytes.Buffer

	xzWriter, err := xz.NewWriter(&buf)
	require.NoError(t, err)

	tarWriter := tar.NewWriter(xzWriter)
	require.NoError(t, imagemeta.WriteEntry(tarWriter, &imagemeta.Meta{
		ID:        slot,
		VersionID: versionID,
		Tier:      tier,
	}))

	payload := []byte("payload for " + slot)
	require.NoError(t, tarWriter.WriteHeader(&tar.Header{
		Name: "usr/bin/" + slot,
		Mode: 0o755,
		Size: int64(len(payload)),
	}))

	_, err = tarWriter.Write(payload)
	require.NoError(t, err)

	require.NoError(t, tarWriter.Close())
	require.NoError(t, xzWriter.Close())

	return buf.Bytes()
}

// countingServer serves fixed payloads and counts GET hits. HEAD always
// reports the object present so tests exercise the download path directly.
type countingServer struct {
	payloads map[string][]byte
	gets     atomic.Int32
}

func (s *countingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, ok := s.payloads[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if r.Method == http.MethodGet {
		s.gets.Add(1)
	}

	_, _ = w.Write(body)
}

// testEnv lays out a fake host: config file, OEM partition, root store,
// installer with the signing key, and a gpg stand-in accepting everything.
type testEnv struct {
	cfg        *config.Config
	configPath string
	base       string
}

func newTestEnv(t *testing.T, cacheURL string) *testEnv {
	t.Helper()

	base := t.TempDir()

	installer := "#!/bin/bash\nset -e\n" +
		"GPG_LONG_ID=\"" + testKeyID + "\"\n" +
		"GPG_KEY=$(cat <<EOF\n" +
		"-----BEGIN PGP PUBLIC KEY BLOCK-----\n\nmQINBFtest==\n-----END PGP PUBLIC KEY BLOCK-----\n" +
		"EOF\n)\n"
	installerPath := filepath.Join(base, "os-install")
	require.NoError(t, os.WriteFile(installerPath, []byte(installer), 0o755))

	gpgPath := filepath.Join(base, "gpg")
	require.NoError(t, os.WriteFile(gpgPath, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	require.NoError(t, os.MkdirAll(filepath.Join(base, "oem"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "etc"), 0o755))

	cfg := config.Default()
	cfg.ReleaseDomain = ""
	cfg.CacheURL = cacheURL
	cfg.OEMDir = filepath.Join(base, "oem", "sysext")
	cfg.RootDir = filepath.Join(base, "root", "sysext")
	cfg.SymlinkDir = filepath.Join(base, "etc", "extensions")
	cfg.OEMReleaseFile = filepath.Join(base, "oem", "oem-release")
	cfg.EnabledFile = filepath.Join(base, "etc", "enabled.conf")
	cfg.InstallerPath = installerPath
	cfg.GPGPath = gpgPath

	configPath := filepath.Join(base, "sysext-bootstrap.yaml")
	require.NoError(t, config.Save(configPath, cfg))

	return &testEnv{cfg: cfg, configPath: configPath, base: base}
}

func (e *testEnv) options(osVersion, board string) *bootstrap.Options {
	return &bootstrap.Options{
		ConfigPath: e.configPath,
		OSVersion:  osVersion,
		Board:      board,
	}
}

func (e *testEnv) resolveLink(t *testing.T, name string) (string, bool) {
	t.Helper()

	target, ok, err := store.NewLinks(e.cfg.SymlinkDir).Resolve(name)
	require.NoError(t, err)

	return target, ok
}

// requireNoSignatures checks that no stray .sig files survive in the
// image stores.
func (e *testEnv) requireNoSignatures(t *testing.T) {
	t.Helper()

	for _, dir := range []string{e.cfg.OEMDir, e.cfg.RootDir} {
		matches, err := filepath.Glob(filepath.Join(dir, "*.sig"))
		require.NoError(t, err)
		require.Empty(t, matches)
	}
}

// TestBootstrap_Run_ProvisionsHost downloads and places the OEM extension,
// applies the migration manifest, syncs the enabled extension, and stays
// idempotent on the next boot.
//
//nolint:funlen // Integration test requires comprehensive setup and verification.
func TestBootstrap_Run_ProvisionsHost(t *testing.T) {
	server := &countingServer{payloads: map[string][]byte{
		"/amd64/4152.2.0/oem-qemu.raw":     buildTestImage(t, "oem-qemu", "4152.2.0", ""),
		"/amd64/4152.2.0/oem-qemu.raw.sig": []byte("detached signature"),
		"/amd64/4152.2.0/zfs.raw":          buildTestImage(t, "zfs", "4152.2.0", ""),
		"/amd64/4152.2.0/zfs.raw.sig":      []byte("detached signature"),
	}}

	ts := httptest.NewServer(server)
	defer ts.Close()

	env := newTestEnv(t, ts.URL)
	require.NoError(t, os.WriteFile(env.cfg.OEMReleaseFile, []byte("ID=qemu\n"), 0o644))
	require.NoError(t, os.WriteFile(env.cfg.EnabledFile, []byte("# extra extensions\nzfs\n"), 0o644))

	// A leftover file and the migration manifest that retires it.
	leftover := filepath.Join(env.base, "old-oem-setup.service")
	require.NoError(t, os.WriteFile(leftover, []byte("old unit"), 0o644))
	require.NoError(t, os.MkdirAll(env.cfg.OEMDir, 0o755))
	require.NoError(t, os.WriteFile(
		env.cfg.MigrationManifest("qemu"),
		[]byte(leftover+"\n"),
		0o644))

	// A network-up hook recording its invocations.
	hookMarker := filepath.Join(env.base, "net-up.log")
	hookPath := filepath.Join(env.base, "net-up.sh")
	require.NoError(t, os.WriteFile(hookPath, []byte("#!/bin/sh\necho up >> "+hookMarker+"\n"), 0o755))
	env.cfg.NetworkUpCommand = hookPath
	require.NoError(t, config.Save(env.configPath, env.cfg))

	require.NoError(t, bootstrap.Run(context.Background(), env.options("4152.2.0", "amd64-usr")))

	// The OEM extension landed on the OEM partition.
	oemImage := filepath.Join(env.cfg.OEMDir, "oem-qemu-4152.2.0.raw")
	meta, err := imagemeta.Read(oemImage)
	require.NoError(t, err)
	require.Equal(t, "oem-qemu", meta.ID)

	target, ok := env.resolveLink(t, "oem-qemu.raw")
	require.True(t, ok)
	require.Equal(t, oemImage, target)

	// The enabled extension landed in the root store.
	zfsImage := filepath.Join(env.cfg.RootDir, "zfs-4152.2.0.raw")
	target, ok = env.resolveLink(t, "zfs.raw")
	require.True(t, ok)
	require.Equal(t, zfsImage, target)

	// The migration manifest was applied and consumed.
	_, err = os.Stat(leftover)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(env.cfg.MigrationManifest("qemu"))
	require.ErrorIs(t, err, os.ErrNotExist)

	// The network hook ran exactly once for both downloads.
	hookLog, err := os.ReadFile(hookMarker)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(hookLog), "up"))

	env.requireNoSignatures(t)
	require.EqualValues(t, 4, server.gets.Load(), "two images and two signatures")

	// A second boot finds everything in place and downloads nothing.
	require.NoError(t, bootstrap.Run(context.Background(), env.options("4152.2.0", "amd64-usr")))
	require.EqualValues(t, 4, server.gets.Load(), "the second boot must not download")
}

// TestBootstrap_Run_FailsWhenArtifactMissing verifies that a host whose
// OEM image cannot be downloaded refuses to come up quietly.
func TestBootstrap_Run_FailsWhenArtifactMissing(t *testing.T) {
	ts := httptest.NewServer(&countingServer{payloads: map[string][]byte{}})
	defer ts.Close()

	env := newTestEnv(t, ts.URL)
	require.NoError(t, os.WriteFile(env.cfg.OEMReleaseFile, []byte("ID=qemu\n"), 0o644))

	err := bootstrap.Run(context.Background(), env.options("4152.2.0", "amd64-usr"))
	require.ErrorIs(t, err, fetcher.ErrDownloadFailed)
}

// TestBootstrap_Run_FallsBackToRootStore verifies a read-only or broken
// OEM partition degrades to the root store instead of failing the boot.
func TestBootstrap_Run_FallsBackToRootStore(t *testing.T) {
	server := &countingServer{payloads: map[string][]byte{
		"/amd64/4152.2.0/oem-qemu.raw":     buildTestImage(t, "oem-qemu", "4152.2.0", ""),
		"/amd64/4152.2.0/oem-qemu.raw.sig": []byte("detached signature"),
	}}

	ts := httptest.NewServer(server)
	defer ts.Close()

	env := newTestEnv(t, ts.URL)
	require.NoError(t, os.WriteFile(env.cfg.OEMReleaseFile, []byte("ID=qemu\n"), 0o644))

	// A regular file where the OEM store should be makes every OEM
	// install fail regardless of privileges.
	require.NoError(t, os.WriteFile(env.cfg.OEMDir, []byte("not a directory"), 0o644))

	require.NoError(t, bootstrap.Run(context.Background(), env.options("4152.2.0", "amd64-usr")))

	rootImage := filepath.Join(env.cfg.RootDir, "oem-qemu-4152.2.0.raw")
	_, err := os.Stat(rootImage)
	require.NoError(t, err)

	target, ok := env.resolveLink(t, "oem-qemu.raw")
	require.True(t, ok)
	require.Equal(t, rootImage, target)
}

// TestBootstrap_Run_PrefersLegacyImage verifies a factory legacy image
// suppresses the download entirely.
func TestBootstrap_Run_PrefersLegacyImage(t *testing.T) {
	server := &countingServer{payloads: map[string][]byte{}}

	ts := httptest.NewServer(server)
	defer ts.Close()

	env := newTestEnv(t, ts.URL)
	require.NoError(t, os.WriteFile(env.cfg.OEMReleaseFile, []byte("ID=qemu\n"), 0o644))

	require.NoError(t, os.MkdirAll(env.cfg.OEMDir, 0o755))
	legacyImage := filepath.Join(env.cfg.OEMDir, "oem-qemu-initial.raw")
	require.NoError(t, os.WriteFile(legacyImage,
		buildTestImage(t, "oem-qemu", "4054.0.0", imagemeta.TierLegacy), 0o644))

	require.NoError(t, bootstrap.Run(context.Background(), env.options("4152.2.0", "amd64-usr")))

	target, ok := env.resolveLink(t, "oem-qemu.raw")
	require.True(t, ok)
	require.Equal(t, legacyImage, target)

	require.Zero(t, server.gets.Load(), "a legacy factory image must suppress the download")
}

// TestBootstrap_Run_RejectsUnverifiableImage verifies a bad signature is
// fatal and leaves no image or link behind.
func TestBootstrap_Run_RejectsUnverifiableImage(t *testing.T) {
	server := &countingServer{payloads: map[string][]byte{
		"/amd64/4152.2.0/oem-qemu.raw":     buildTestImage(t, "oem-qemu", "4152.2.0", ""),
		"/amd64/4152.2.0/oem-qemu.raw.sig": []byte("forged signature"),
	}}

	ts := httptest.NewServer(server)
	defer ts.Close()

	env := newTestEnv(t, ts.URL)
	require.NoError(t, os.WriteFile(env.cfg.OEMReleaseFile, []byte("ID=qemu\n"), 0o644))

	rejecting := `#!/bin/sh
for arg in "$@"; do
  if [ "$arg" = "--verify" ]; then
    echo "gpg: BAD signature" >&2
    exit 1
  fi
done
exit 0
`
	require.NoError(t, os.WriteFile(env.cfg.GPGPath, []byte(rejecting), 0o755))

	err := bootstrap.Run(context.Background(), env.options("4152.2.0", "amd64-usr"))
	require.ErrorIs(t, err, verifier.ErrVerificationFailed)

	_, err = os.Stat(filepath.Join(env.cfg.OEMDir, "oem-qemu-4152.2.0.raw"))
	require.ErrorIs(t, err, os.ErrNotExist, "a rejected image must not be installed")

	_, ok := env.resolveLink(t, "oem-qemu.raw")
	require.False(t, ok, "a rejected image must not be activated")
}
