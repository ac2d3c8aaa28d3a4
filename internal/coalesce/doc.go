// Package coalesce provides Flight, a one-shot outcome shared by every caller
// that joins an in-flight state transition instead of starting its own.
package coalesce
