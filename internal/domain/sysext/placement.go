package sysext

// Placement describes where the active OEM extension image for this boot
// lives, as decided by the storage placer.
type Placement int

const (
	// PlacementAbsent means no usable image was found or produced.
	PlacementAbsent Placement = iota
	// PlacementOEM means the version-pinned image sits on the OEM partition.
	PlacementOEM
	// PlacementRoot means the version-pinned image sits on the root
	// partition store.
	PlacementRoot
	// PlacementLegacy means only the factory "initial" image on the OEM
	// partition is available.
	PlacementLegacy
)

// String renders the placement for logs.
func (p Placement) String() string {
	switch p {
	case PlacementOEM:
		return "oem-partition"
	case PlacementRoot:
		return "root-partition"
	case PlacementLegacy:
		return "legacy-initial"
	case PlacementAbsent:
		return "absent"
	default:
		return "unknown"
	}
}
