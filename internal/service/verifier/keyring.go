package verifier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Markers of the armored public key embedded in the installer.
const (
	armorBegin = "-----BEGIN PGP PUBLIC KEY BLOCK-----"
	armorEnd   = "-----END PGP PUBLIC KEY BLOCK-----"
)

// longIDPattern finds the long key id the installer declares next to its
// embedded key.
var longIDPattern = regexp.MustCompile(`GPG_LONG_ID="?([0-9A-Fa-f]{16})`)

var (
	errNoSigningKey = errors.New("no armored signing key in installer")
	errNoKeyID      = errors.New("no signing key id in installer")
)

// SigningKey is the image signing key carried inside the OS installer,
// which is the only key material trusted for image verification.
type SigningKey struct {
	// Armored is the ASCII-armored public key block.
	Armored string
	// LongID is the 16 hex digit long key id.
	LongID string
}

// ExtractSigningKey pulls the armored signing key and its long id out of
// the installer file. The installer may be a binary; the key block and id
// are located as plain text within it.
func ExtractSigningKey(installerPath string) (*SigningKey, error) {
	contents, err := os.ReadFile(filepath.Clean(installerPath))
	if err != nil {
		return nil, fmt.Errorf("read installer: %w", err)
	}

	text := string(contents)

	begin := strings.Index(text, armorBegin)
	if begin < 0 {
		return nil, fmt.Errorf("%s: %w", installerPath, errNoSigningKey)
	}

	length := strings.Index(text[begin:], armorEnd)
	if length < 0 {
		return nil, fmt.Errorf("%s: %w", installerPath, errNoSigningKey)
	}

	match := longIDPattern.FindStringSubmatch(text)
	if match == nil {
		return nil, fmt.Errorf("%s: %w", installerPath, errNoKeyID)
	}

	return &SigningKey{
		Armored: text[begin : begin+length+len(armorEnd)],
		LongID:  strings.ToUpper(match[1]),
	}, nil
}
