// Package fetch holds the network and archive adapters used by the install
// workflow: an HTTP downloader with checksum validation, a throttled
// Curseforge URL lookup client and a zip extractor.
//
// Each adapter satisfies a small interface owned by the modpack package, so
// tests can swap them for scripted doubles.
package fetch
