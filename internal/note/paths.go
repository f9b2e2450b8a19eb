// Package note contains the pure helpers for turning vault-relative note
// and attachment paths into published locations, and for rewriting the
// image references embedded in note text.
package note

import "strings"

// ResolvePublishPath joins a base path, a subdirectory and an item path
// into a normalized published path. Leading and trailing slashes are
// stripped from each segment and empty segments are dropped, so the
// result never carries separator artifacts regardless of how the inputs
// were written in the configuration. The output is stable for identical
// inputs and is used as the deduplication key for tree entries.
func ResolvePublishPath(base, sub, item string) string {
	parts := make([]string, 0, 3)
	for _, seg := range []string{base, sub, item} {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, "/")
}
