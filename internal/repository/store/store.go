package store

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
	"golang.org/x/sys/unix"

	// Ensure SHA256 available for checksum calculation.
	_ "crypto/sha256"
)

const (
	// DefaultImageMode is applied to installed image files.
	DefaultImageMode os.FileMode = 0o644

	// DefaultChecksumFunction is used to validate image contents during install.
	DefaultChecksumFunction crypto.Hash = crypto.SHA256

	storeDirMode os.FileMode = 0o755
)

var (
	// ErrInsufficientSpace means the store's filesystem cannot hold the image.
	ErrInsufficientSpace = errors.New("insufficient space in store")

	errHashUnavailable = errors.New("hash function unavailable")
)

// Store keeps versioned image files in a single directory.
type Store struct {
	dir string
}

// New returns a store rooted at dir. The path is cleaned so Dir compares
// stably against other path computations. The directory is created lazily
// on first install.
func New(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the full path of a named image inside the store.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Has reports whether the store holds a regular file under name.
func (s *Store) Has(name string) bool {
	fileInfo, err := os.Stat(s.Path(name))

	return err == nil && fileInfo.Mode().IsRegular()
}

// Install copies the file at sourcePath into the store under name,
// replacing any previous file of that name atomically. The source file is
// left in place.
func (s *Store) Install(sourcePath, name string) error {
	if err := os.MkdirAll(s.dir, storeDirMode); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	source, err := os.Open(filepath.Clean(sourcePath))
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	defer func() {
		_ = source.Close()
	}()

	checksum, size, err := fileChecksum(source)
	if err != nil {
		return err
	}

	if err = s.ensureSpace(size); err != nil {
		return err
	}

	if _, err = source.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind source: %w", err)
	}

	targetPath := s.Path(name)
	if _, err = os.Stat(targetPath); err != nil && os.IsNotExist(err) {
		if _, err = os.Create(targetPath); err != nil {
			return fmt.Errorf("create target: %w", err)
		}
	}

	options := &goupdate.Options{
		TargetPath: targetPath,
		TargetMode: DefaultImageMode,
		Checksum:   checksum,
		Hash:       DefaultChecksumFunction,
	}

	if err = goupdate.Apply(source, *options); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}

	oldPath := targetPath + ".old"
	if _, err = os.Stat(oldPath); err == nil {
		_ = os.Remove(oldPath)
	}

	return nil
}

// Adopt moves the file at sourcePath into the store under name. The
// source is removed only after the install succeeded, so a failed adopt
// leaves the original untouched.
func (s *Store) Adopt(sourcePath, name string) error {
	if err := s.Install(sourcePath, name); err != nil {
		return err
	}

	if err := os.Remove(sourcePath); err != nil {
		return fmt.Errorf("remove adopted source: %w", err)
	}

	return nil
}

// Remove deletes a named image from the store. Missing files are not an
// error.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}

	return nil
}

// ensureSpace checks that the store's filesystem can hold size more bytes.
// The replaced file, if any, is not credited back: the new copy exists next
// to it until the final rename.
func (s *Store) ensureSpace(size int64) error {
	var stat unix.Statfs_t

	if err := unix.Statfs(s.dir, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", s.dir, err)
	}

	free := stat.Bavail * uint64(stat.Bsize)
	if free < uint64(size) {
		return fmt.Errorf("%s: need %d bytes, %d free: %w", s.dir, size, free, ErrInsufficientSpace)
	}

	return nil
}

// fileChecksum hashes the remainder of r with DefaultChecksumFunction and
// returns the digest together with the number of bytes read.
func fileChecksum(r io.Reader) ([]byte, int64, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, 0, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()

	size, err := io.Copy(hasher, r)
	if err != nil {
		return nil, 0, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), size, nil
}
