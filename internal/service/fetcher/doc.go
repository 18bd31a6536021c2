// Package fetcher downloads extension images and their detached
// signatures. It derives the candidate URLs from the host configuration,
// preferring the per-channel release server over the cache mirror, probes
// each server before downloading, and retries transient failures on a
// fixed budget. An image and its signature always come from the same
// server.
package fetcher
