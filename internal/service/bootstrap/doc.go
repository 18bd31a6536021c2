// Package bootstrap runs the boot-time provisioning flow: place the OEM
// partition extension, apply its pending migration manifest, then sync
// the user-enabled extensions. Errors that leave the host without an
// authenticated image abort the run; everything else degrades and logs.
package bootstrap
