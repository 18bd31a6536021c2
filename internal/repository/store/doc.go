// Package store persists extension images on disk and publishes the
// activation symlinks that select them. A Store is a flat directory of
// version-pinned image files with atomic, checksum-validated replacement.
// A Links set maps slot names to whichever stored image should be active.
package store
