// Package mirror publishes notes and assets to a writable filesystem
// target, typically a shared mount served by a separate process.
package mirror

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Item is one file to write into the mirror.
type Item struct {
	// Target is the destination path relative to the notes or assets
	// directory, in slash form.
	Target  string
	IsAsset bool
	Content []byte
}

// DeleteItem names one file to remove from the mirror.
type DeleteItem struct {
	Target  string
	IsAsset bool
}

// TargetError records a single failed item.
type TargetError struct {
	Target string
	Err    error
}

// Result aggregates per-item outcomes of a batch.
type Result struct {
	Succeeded int
	Failed    []TargetError
}

// OK reports whether every item in the batch succeeded.
func (r Result) OK() bool {
	return len(r.Failed) == 0
}

// Publisher writes to one mirror root with a notes and an assets
// subdirectory.
type Publisher struct {
	root      string
	notesDir  string
	assetsDir string
	logger    *slog.Logger
}

// NewPublisher creates a mirror publisher rooted at root.
func NewPublisher(root, notesDir, assetsDir string, logger *slog.Logger) *Publisher {
	return &Publisher{
		root:      root,
		notesDir:  notesDir,
		assetsDir: assetsDir,
		logger:    logger,
	}
}

// EnsureTargets creates the notes and assets directories. An unreachable
// mirror root is fatal and surfaced to the caller.
func (p *Publisher) EnsureTargets() error {
	for _, dir := range []string{
		filepath.Join(p.root, p.notesDir),
		filepath.Join(p.root, p.assetsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create mirror directory %s: %w", dir, err)
		}
	}
	return nil
}

// PublishMany writes each item, collecting per-item failures instead of
// aborting the batch.
func (p *Publisher) PublishMany(items []Item) Result {
	var result Result
	for _, item := range items {
		dest := p.targetPath(item.Target, item.IsAsset)
		if err := p.writeFile(dest, item.Content); err != nil {
			p.logger.Warn("mirror write failed", "target", item.Target, "error", err)
			result.Failed = append(result.Failed, TargetError{Target: item.Target, Err: err})
			continue
		}
		p.logger.Debug("mirror file written", "dest", dest)
		result.Succeeded++
	}
	return result
}

// DeleteMany removes each item. A target that is already gone counts as
// deleted, not as an error.
func (p *Publisher) DeleteMany(items []DeleteItem) Result {
	var result Result
	for _, item := range items {
		dest := p.targetPath(item.Target, item.IsAsset)
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("mirror delete failed", "target", item.Target, "error", err)
			result.Failed = append(result.Failed, TargetError{Target: item.Target, Err: err})
			continue
		}
		result.Succeeded++
	}
	return result
}

func (p *Publisher) targetPath(target string, isAsset bool) string {
	dir := p.notesDir
	if isAsset {
		dir = p.assetsDir
	}
	return filepath.Join(p.root, dir, filepath.FromSlash(target))
}

// writeFile writes content atomically via a temp file in the destination
// directory, creating parent directories on demand.
func (p *Publisher) writeFile(dest string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".notegarden-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(content); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dest)
}
