package imagemeta

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

const (
	// MetaDir is the in-image directory holding the description entry.
	MetaDir = "usr/lib/extension-release.d"

	// TierLegacy marks factory "initial" images predating versioned placement.
	TierLegacy = "legacy"

	// readLimit bounds how far into an archive the reader looks for the
	// description entry. The entry is written first, so anything beyond
	// this is image payload.
	readLimit = 1 << 20
)

// Keys of the description entry.
const (
	keyID        = "SYSEXT_ID"
	keyVersionID = "SYSEXT_VERSION_ID"
	keyTier      = "SYSEXT_IMAGE_TIER"
)

// xzMagic identifies an xz container.
var xzMagic = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}

var (
	// ErrNotImage is returned when the file is not an xz container.
	ErrNotImage = errors.New("not an xz image")
	// ErrNoMetadata is returned when no description entry is found within
	// the read limit.
	ErrNoMetadata = errors.New("image metadata not found")
)

// Meta describes an extension image, parsed from the os-release style
// description entry embedded at the front of the archive.
type Meta struct {
	// ID is the extension slot name the image was built for.
	ID string
	// VersionID is the OS release the image targets.
	VersionID string
	// Tier distinguishes special builds, e.g. TierLegacy for factory images.
	Tier string
}

// Legacy reports whether the image is a factory initial build.
func (m *Meta) Legacy() bool {
	return m.Tier == TierLegacy
}

// EntryName returns the description entry path for a slot name.
func EntryName(slot string) string {
	return path.Join(MetaDir, "extension-release."+slot)
}

// Render returns the description entry content for the metadata.
func (m *Meta) Render() []byte {
	var builder strings.Builder

	builder.WriteString(keyID + "=" + m.ID + "\n")
	builder.WriteString(keyVersionID + "=" + m.VersionID + "\n")

	if m.Tier != "" {
		builder.WriteString(keyTier + "=" + m.Tier + "\n")
	}

	return []byte(builder.String())
}

// WriteEntry writes the description as an archive entry. Builders call it
// before adding the image payload so readers find the entry first.
func WriteEntry(tw *tar.Writer, m *Meta) error {
	contents := m.Render()

	header := &tar.Header{
		Name: EntryName(m.ID),
		Mode: 0o644,
		Size: int64(len(contents)),
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write metadata header: %w", err)
	}

	if _, err := tw.Write(contents); err != nil {
		return fmt.Errorf("write metadata entry: %w", err)
	}

	return nil
}

// Read extracts metadata from an image file without unpacking it. It
// streams the leading slice of the archive and stops at the description
// entry. Non-xz files and archives without a description entry near the
// front yield ErrNotImage and ErrNoMetadata respectively.
func Read(imagePath string) (*Meta, error) {
	f, err := os.Open(filepath.Clean(imagePath))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	head := make([]byte, len(xzMagic))
	if _, err = io.ReadFull(f, head); err != nil || !bytes.Equal(head, xzMagic) {
		return nil, fmt.Errorf("%s: %w", imagePath, ErrNotImage)
	}

	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind image: %w", err)
	}

	xzReader, err := xz.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", imagePath, err, ErrNotImage)
	}

	tarReader := tar.NewReader(io.LimitReader(xzReader, readLimit))
	entryPrefix := MetaDir + "/extension-release."

	for {
		header, err := tarReader.Next()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", imagePath, ErrNoMetadata)
		}

		if header.FileInfo().IsDir() {
			continue
		}

		name := strings.TrimPrefix(path.Clean(header.Name), "./")
		if strings.HasPrefix(name, entryPrefix) {
			return parse(io.LimitReader(tarReader, readLimit))
		}
	}
}

// parse reads the KEY=VALUE description entry.
func parse(r io.Reader) (*Meta, error) {
	meta := new(Meta)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch strings.TrimSpace(key) {
		case keyID:
			meta.ID = value
		case keyVersionID:
			meta.VersionID = value
		case keyTier:
			meta.Tier = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read metadata entry: %w", err)
	}

	return meta, nil
}
