// Package placer decides where an extension image lives. It prefers
// images already on the OEM partition, relocates root-store copies there
// when possible, honors factory legacy images, and downloads only when
// nothing usable is on disk. Whatever it places, it publishes through the
// slot's activation symlink.
package placer
