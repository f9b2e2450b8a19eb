// Package vault reads notes and attachments from the local note
// directory and resolves embedded image references to concrete files.
package vault

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one note, identified by its vault-relative slash path.
type Document struct {
	Path string
	Name string
}

// Store is the read-only view of the vault the publishing code needs.
type Store interface {
	// List returns every note in the vault, sorted by path.
	List(ctx context.Context) ([]Document, error)
	// ReadText returns the text content of the note at path.
	ReadText(path string) (string, error)
	// ReadBinary returns the raw bytes of the attachment at path.
	ReadBinary(path string) ([]byte, error)
	// ResolveRef maps an embedded reference string to the vault path of
	// the attachment it points at, relative to the referring note.
	ResolveRef(ref, fromPath string) (string, bool)
}

// FS implements Store against a vault directory on disk.
type FS struct {
	root string
}

// NewFS creates a vault store rooted at dir.
func NewFS(dir string) *FS {
	return &FS{root: dir}
}

// List walks the vault and returns every markdown note. Hidden files and
// directories (names starting with ".") are skipped, as is anything that
// is not a .md file.
func (v *FS) List(ctx context.Context) ([]Document, error) {
	var docs []Document

	err := filepath.Walk(v.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Skip hidden files and directories (e.g. .obsidian, .git)
		if p != v.root && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() || !strings.EqualFold(filepath.Ext(p), ".md") {
			return nil
		}

		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		docs = append(docs, Document{
			Path: relSlash,
			Name: strings.TrimSuffix(path.Base(relSlash), path.Ext(relSlash)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk vault: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// ReadText returns the note text at the vault-relative path.
func (v *FS) ReadText(p string) (string, error) {
	data, err := os.ReadFile(v.abs(p))
	if err != nil {
		return "", fmt.Errorf("failed to read note %s: %w", p, err)
	}
	return string(data), nil
}

// ReadBinary returns the attachment bytes at the vault-relative path.
func (v *FS) ReadBinary(p string) ([]byte, error) {
	data, err := os.ReadFile(v.abs(p))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", p, err)
	}
	return data, nil
}

// ResolveRef resolves a reference the way note links work: a path
// relative to the referring note's directory wins; otherwise a file
// with a matching basename anywhere in the vault is used, provided the
// match is unique. Ambiguous or missing references resolve to nothing.
func (v *FS) ResolveRef(ref, fromPath string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}

	// Relative to the referring note's directory first.
	candidate := path.Clean(path.Join(path.Dir(fromPath), ref))
	if !strings.HasPrefix(candidate, "..") && v.exists(candidate) {
		return candidate, true
	}

	// Vault-relative path as written.
	direct := path.Clean(strings.TrimPrefix(ref, "/"))
	if !strings.HasPrefix(direct, "..") && v.exists(direct) {
		return direct, true
	}

	// Unique basename match anywhere in the vault.
	var matches []string
	base := path.Base(direct)
	_ = filepath.Walk(v.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p != v.root && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() && info.Name() == base {
			rel, relErr := filepath.Rel(v.root, p)
			if relErr == nil {
				matches = append(matches, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	if len(matches) == 1 {
		return matches[0], true
	}
	return "", false
}

func (v *FS) abs(p string) string {
	return filepath.Join(v.root, filepath.FromSlash(p))
}

func (v *FS) exists(p string) bool {
	info, err := os.Stat(v.abs(p))
	return err == nil && !info.IsDir()
}
