// Package config defines the host layout and download endpoints used by the
// binaries and provides helpers to load, validate and save them in YAML
// format.
//
// It also ships the small line-oriented readers for the host's release and
// extension list files (comment-stripping lines, KEY=VALUE pairs).
package config
