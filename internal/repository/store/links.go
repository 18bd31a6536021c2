package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Links manages the directory of activation symlinks. Each link is named
// after an extension slot and points at the image file the system should
// merge on next boot.
type Links struct {
	dir string
}

// NewLinks returns a link set rooted at dir. The path is cleaned the same
// way New cleans store roots.
func NewLinks(dir string) *Links {
	return &Links{dir: filepath.Clean(dir)}
}

// Path returns the full path of a named link.
func (l *Links) Path(name string) string {
	return filepath.Join(l.dir, name)
}

// Resolve returns the absolute target of a named link. Missing links
// report ok as false without an error.
func (l *Links) Resolve(name string) (string, bool, error) {
	target, err := os.Readlink(l.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("read link %s: %w", name, err)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(l.dir, target)
	}

	return filepath.Clean(target), true, nil
}

// Publish points the named link at target, replacing any previous link
// atomically. Publishing an already current link is a no-op.
func (l *Links) Publish(name, target string) error {
	if current, ok, err := l.Resolve(name); err == nil && ok && current == filepath.Clean(target) {
		return nil
	}

	if err := os.MkdirAll(l.dir, storeDirMode); err != nil {
		return fmt.Errorf("create link directory: %w", err)
	}

	stagedPath := l.Path(name) + ".new"
	_ = os.Remove(stagedPath)

	if err := os.Symlink(target, stagedPath); err != nil {
		return fmt.Errorf("stage link %s: %w", name, err)
	}

	if err := os.Rename(stagedPath, l.Path(name)); err != nil {
		_ = os.Remove(stagedPath)

		return fmt.Errorf("publish link %s: %w", name, err)
	}

	return nil
}

// Remove deletes a named link. Missing links are not an error.
func (l *Links) Remove(name string) error {
	err := os.Remove(l.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove link %s: %w", name, err)
	}

	return nil
}
