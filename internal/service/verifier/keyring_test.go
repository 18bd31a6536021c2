package verifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testArmoredKey = armorBegin + "\n\nmQINBFfake/keymaterial+base64==\n" + armorEnd

// writeInstaller writes a fake installer file carrying the signing key the
// way the real one does: key id and armored block surrounded by unrelated
// script text.
func writeInstaller(t *testing.T, longID string) string {
	t.Helper()

	contents := "#!/bin/bash\nset -e\n" +
		"GPG_LONG_ID=\"" + longID + "\"\n" +
		"GPG_KEY=$(cat <<EOF\n" + testArmoredKey + "\nEOF\n)\n" +
		"echo install\n"

	installerPath := filepath.Join(t.TempDir(), "os-install")
	require.NoError(t, os.WriteFile(installerPath, []byte(contents), 0o755))

	return installerPath
}

func TestExtractSigningKey(t *testing.T) {
	t.Parallel()

	installerPath := writeInstaller(t, "04126d0a2ca44d85")

	key, err := ExtractSigningKey(installerPath)
	require.NoError(t, err)
	require.Equal(t, testArmoredKey, key.Armored)
	require.Equal(t, "04126D0A2CA44D85", key.LongID)
}

func TestExtractSigningKeyWithoutArmor(t *testing.T) {
	t.Parallel()

	installerPath := filepath.Join(t.TempDir(), "os-install")
	require.NoError(t, os.WriteFile(installerPath, []byte("GPG_LONG_ID=\"04126D0A2CA44D85\"\n"), 0o755))

	_, err := ExtractSigningKey(installerPath)
	require.ErrorIs(t, err, errNoSigningKey)
}

func TestExtractSigningKeyWithoutID(t *testing.T) {
	t.Parallel()

	installerPath := filepath.Join(t.TempDir(), "os-install")
	require.NoError(t, os.WriteFile(installerPath, []byte(testArmoredKey), 0o755))

	_, err := ExtractSigningKey(installerPath)
	require.ErrorIs(t, err, errNoKeyID)
}

func TestExtractSigningKeyMissingInstaller(t *testing.T) {
	t.Parallel()

	_, err := ExtractSigningKey(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
