// Package imagemeta reads and writes the description entry embedded in
// extension images. The entry lives under usr/lib/extension-release.d
// inside the tar.xz container and is always the first archive member, so
// Read can classify an image by streaming only its leading bytes.
package imagemeta
