package sysext

import "strings"

const (
	// ImageExtension is the filename suffix shared by every extension image.
	ImageExtension = ".raw"
	// SignatureExtension is appended to an image filename to name its
	// detached signature.
	SignatureExtension = ".sig"

	// legacySuffix marks the unversioned image shipped on factory OEM partitions.
	legacySuffix = "initial"
	// oemSlotPrefix prefixes the slot name derived from an OEM id.
	oemSlotPrefix = "oem-"
	// boardSuffix is the packaging suffix stripped from board names on the
	// cache mirror, which keys its buckets by plain architecture.
	boardSuffix = "-usr"
)

// Artifact identifies one extension image build: which extension, for which
// OS version, on which board.
type Artifact struct {
	// Name is the extension slot name, e.g. "oem-azure" or "zfs".
	Name string
	// Version is the OS release the image was built for.
	Version string
	// Board is the hardware board identifier, e.g. "amd64-usr".
	Board string
}

// FileName returns the version-pinned name the image is stored under,
// e.g. "oem-azure-4152.2.3.raw".
func (a Artifact) FileName() string {
	return a.Name + "-" + a.Version + ImageExtension
}

// RemoteName returns the object name on a download server. The version is a
// URL path segment there, so the object itself carries none.
func (a Artifact) RemoteName() string {
	return a.Name + ImageExtension
}

// LinkName returns the active-symlink name for the artifact's slot,
// e.g. "oem-azure.raw".
func (a Artifact) LinkName() string {
	return a.Name + ImageExtension
}

// OEMSlot returns the slot name for an OEM id.
func OEMSlot(oemID string) string {
	return oemSlotPrefix + oemID
}

// LegacyInitialName returns the unversioned image name factory OEM
// partitions carried before versioned placement existed,
// e.g. "oem-azure-initial.raw".
func LegacyInitialName(slot string) string {
	return slot + "-" + legacySuffix + ImageExtension
}

// BaseBoard strips the packaging suffix from a board identifier,
// e.g. "amd64-usr" becomes "amd64".
func BaseBoard(board string) string {
	return strings.TrimSuffix(board, boardSuffix)
}
