// Package pathutil normalizes paths reported by download clients,
// which may run on a different OS than this process.
package pathutil

import "path/filepath"

// NormalizePath rewrites path separators to forward slashes so a
// Windows-style save path from a remote client compares and joins
// cleanly. os.Open and os.Stat accept forward slashes everywhere.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}
