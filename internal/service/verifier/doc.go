// Package verifier authenticates downloaded extension images. The trust
// anchor is the signing key embedded in the OS installer binary already
// on disk: it is extracted and imported into an ephemeral gpg keyring for
// each verification, and images failing the check are discarded.
package verifier
