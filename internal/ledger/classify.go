package ledger

import (
	"sort"

	"github.com/tbuchli/notegarden/internal/vault"
)

// Status classifies one note path against the ledger.
type Status string

const (
	// StatusUnpublished marks a live note with no ledger record.
	StatusUnpublished Status = "unpublished"
	// StatusChanged marks a live note whose fingerprint no longer
	// matches its record.
	StatusChanged Status = "changed"
	// StatusUpToDate marks a live note matching its record.
	StatusUpToDate Status = "up-to-date"
	// StatusDeleted marks a ledger path with no live note behind it.
	StatusDeleted Status = "deleted"
)

// Entry is one classified path: either a live document or, for
// deleted-but-ledgered paths, just the ghost path. Exactly one of Doc
// and GhostPath is set.
type Entry struct {
	Doc         *vault.Document
	GhostPath   string
	Status      Status
	Fingerprint string
}

// Path returns the note path regardless of variant.
func (e Entry) Path() string {
	if e.Doc != nil {
		return e.Doc.Path
	}
	return e.GhostPath
}

// Classify compares every live document (with its current fingerprint)
// against the ledger records and synthesizes deleted entries for ledger
// paths that no longer have a live note. The result is sorted by path.
func Classify(docs []vault.Document, fingerprints map[string]string, records []Record) []Entry {
	byPath := make(map[string]Record, len(records))
	for _, rec := range records {
		byPath[rec.Path] = rec
	}

	entries := make([]Entry, 0, len(docs))
	live := make(map[string]bool, len(docs))
	for i := range docs {
		doc := docs[i]
		live[doc.Path] = true
		fp := fingerprints[doc.Path]

		status := StatusUnpublished
		if rec, ok := byPath[doc.Path]; ok {
			if rec.Fingerprint == fp {
				status = StatusUpToDate
			} else {
				status = StatusChanged
			}
		}
		entries = append(entries, Entry{Doc: &doc, Status: status, Fingerprint: fp})
	}

	for _, rec := range records {
		if !live[rec.Path] {
			entries = append(entries, Entry{GhostPath: rec.Path, Status: StatusDeleted})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path() < entries[j].Path() })
	return entries
}
