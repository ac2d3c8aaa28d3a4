// Package fileutil holds the filesystem helpers shared by the installer and
// the server topologies: directory preparation and reset, and atomic file
// writes via temp-file-then-rename so that concurrent readers never observe
// a partially written binary.
package fileutil
