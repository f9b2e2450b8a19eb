package ledger

import "strconv"

// Fingerprint computes a cheap order-dependent rolling hash of the note
// text, rendered in base 36. It only detects "changed since last
// publish"; collisions are acceptable and it must never be used for
// anything security-related.
func Fingerprint(text string) string {
	var h uint32
	for _, r := range text {
		h = h<<5 - h + uint32(r)
	}
	return strconv.FormatUint(uint64(h), 36)
}
