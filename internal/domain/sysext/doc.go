// Package sysext contains core domain types for extension image handling.
//
// It defines Artifact (one image build for a given OS version and board)
// with its naming rules, the release Channel derivation from version
// strings, and the Placement outcomes the storage placer decides between.
package sysext
