// Package installer downloads and unpacks a MongoDB server release into a
// local install directory.
//
// Installs are shared: every sandbox configured with the same directory uses
// the same binary. Concurrent downloads, in this process or others, are
// serialized by a file lock next to the install directory, and the binary is
// written atomically so a reader never sees a partial file.
package installer
