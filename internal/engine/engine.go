// Package engine coordinates one publish or unpublish action across the
// configured targets: the git-hosting repository first, then the local
// mirror, then the restart webhook. Target failures are collected
// independently so one target never blocks the other's attempt, and the
// publication ledger is only updated once the whole action succeeded.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbuchli/notegarden/internal/config"
	"github.com/tbuchli/notegarden/internal/ledger"
	"github.com/tbuchli/notegarden/internal/mirror"
	"github.com/tbuchli/notegarden/internal/note"
	"github.com/tbuchli/notegarden/internal/remote"
	"github.com/tbuchli/notegarden/internal/vault"
)

// RemotePublisher is the git-hosting leg of a publish action.
type RemotePublisher interface {
	Publish(ctx context.Context, docs []vault.Document) (*remote.PublishResult, error)
	Unpublish(ctx context.Context, paths []string) (*remote.UnpublishResult, error)
}

// MirrorPublisher is the local filesystem leg of a publish action.
type MirrorPublisher interface {
	EnsureTargets() error
	PublishMany(items []mirror.Item) mirror.Result
	DeleteMany(items []mirror.DeleteItem) mirror.Result
}

// Notifier triggers a restart of the process serving the mirror.
type Notifier interface {
	Restart(ctx context.Context) error
}

// Targets bundles the configured publish legs. Unconfigured legs stay
// nil and are skipped.
type Targets struct {
	Remote   RemotePublisher
	Mirror   MirrorPublisher
	Notifier Notifier
}

// Engine runs publish and unpublish actions.
type Engine struct {
	cfg     *config.Config
	store   vault.Store
	ledger  *ledger.Store
	targets Targets
	logger  *slog.Logger
	dryRun  bool
}

// New creates an engine.
func New(cfg *config.Config, store vault.Store, led *ledger.Store, targets Targets, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		ledger:  led,
		targets: targets,
		logger:  logger,
		dryRun:  dryRun,
	}
}

// Report aggregates the outcome of one publish or unpublish action.
type Report struct {
	Selected      int
	RemoteCommit  string
	MirrorWritten int
	SkippedImages int
	Notified      bool
	Errors        []error
}

// Success reports whether every attempted leg succeeded.
func (r *Report) Success() bool {
	return len(r.Errors) == 0
}

// Publish publishes the selected notes to every configured target.
// With an empty selection, all unpublished and changed notes are
// published; forceAll republishes every live note regardless of its
// classification.
func (e *Engine) Publish(ctx context.Context, selection []string, forceAll bool) (*Report, error) {
	if e.targets.Remote == nil && e.targets.Mirror == nil {
		return nil, fmt.Errorf("no publish target configured")
	}

	docs, texts, fingerprints, err := e.snapshotVault(ctx)
	if err != nil {
		return nil, err
	}

	targets, err := e.selectDocs(docs, fingerprints, selection, forceAll)
	if err != nil {
		return nil, err
	}

	report := &Report{Selected: len(targets)}
	if len(targets) == 0 {
		e.logger.Info("nothing to publish")
		return report, nil
	}

	if e.dryRun {
		for _, doc := range targets {
			e.logger.Info("[dry-run] would publish", "path", doc.Path)
		}
		return report, nil
	}

	mirrorOK := false

	if e.targets.Remote != nil {
		result, err := e.targets.Remote.Publish(ctx, targets)
		if err != nil {
			e.logger.Error("repository publish failed", "error", err)
			report.Errors = append(report.Errors, fmt.Errorf("repository: %w", err))
		} else {
			report.RemoteCommit = result.CommitSHA
			report.SkippedImages = result.SkippedImages
		}
	}

	if e.targets.Mirror != nil {
		written, errs := e.publishToMirror(targets, texts)
		report.MirrorWritten = written
		report.Errors = append(report.Errors, errs...)
		mirrorOK = len(errs) == 0
	}

	if report.Success() {
		now := time.Now()
		for _, doc := range targets {
			if err := e.ledger.Put(doc.Path, fingerprints[doc.Path], now); err != nil {
				report.Errors = append(report.Errors, err)
			}
		}
	}

	// The webhook restarts the process serving the mirror, so it is
	// tied to the mirror leg alone; a remote-only success never fires
	// it.
	if e.targets.Notifier != nil && mirrorOK {
		if err := e.targets.Notifier.Restart(ctx); err != nil {
			e.logger.Warn("restart webhook failed", "error", err)
		} else {
			report.Notified = true
		}
	}

	return report, nil
}

// Unpublish removes the given notes from every configured target and
// drops their ledger records on success.
func (e *Engine) Unpublish(ctx context.Context, paths []string) (*Report, error) {
	if e.targets.Remote == nil && e.targets.Mirror == nil {
		return nil, fmt.Errorf("no publish target configured")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths given")
	}

	report := &Report{Selected: len(paths)}

	if e.dryRun {
		for _, path := range paths {
			e.logger.Info("[dry-run] would unpublish", "path", path)
		}
		return report, nil
	}

	mirrorOK := false

	if e.targets.Remote != nil {
		result, err := e.targets.Remote.Unpublish(ctx, paths)
		if err != nil {
			e.logger.Error("repository unpublish failed", "error", err)
			report.Errors = append(report.Errors, fmt.Errorf("repository: %w", err))
		} else {
			report.RemoteCommit = result.CommitSHA
		}
	}

	if e.targets.Mirror != nil {
		items := make([]mirror.DeleteItem, 0, len(paths))
		for _, path := range paths {
			items = append(items, mirror.DeleteItem{Target: path})
		}
		result := e.targets.Mirror.DeleteMany(items)
		for _, failed := range result.Failed {
			report.Errors = append(report.Errors, fmt.Errorf("mirror %s: %w", failed.Target, failed.Err))
		}
		mirrorOK = result.OK()
	}

	if report.Success() {
		for _, path := range paths {
			if err := e.ledger.Delete(path); err != nil {
				report.Errors = append(report.Errors, err)
			}
		}
	}

	if e.targets.Notifier != nil && mirrorOK {
		if err := e.targets.Notifier.Restart(ctx); err != nil {
			e.logger.Warn("restart webhook failed", "error", err)
		} else {
			report.Notified = true
		}
	}

	return report, nil
}

// Status classifies every note against the publication ledger.
func (e *Engine) Status(ctx context.Context) ([]ledger.Entry, error) {
	docs, _, fingerprints, err := e.snapshotVault(ctx)
	if err != nil {
		return nil, err
	}
	records, err := e.ledger.All()
	if err != nil {
		return nil, err
	}
	return ledger.Classify(docs, fingerprints, records), nil
}

// Serve republishes changed notes on a fixed interval until the context
// is cancelled. Runs are strictly sequential: a tick that fires while a
// publish is still in flight waits for the next tick.
func (e *Engine) Serve(ctx context.Context, interval time.Duration) error {
	e.logger.Info("starting publish daemon", "interval", interval)

	// Initial run before the first tick, matching one-shot behavior.
	e.publishChanged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("shutting down publish daemon")
			return nil
		case <-ticker.C:
			e.publishChanged(ctx)
		}
	}
}

func (e *Engine) publishChanged(ctx context.Context) {
	report, err := e.Publish(ctx, nil, false)
	switch {
	case err != nil:
		e.logger.Error("publish run failed", "error", err)
	case !report.Success():
		e.logger.Error("publish run had errors", "errors", len(report.Errors))
	case report.Selected > 0:
		e.logger.Info("publish run completed", "published", report.Selected)
	}
}

// snapshotVault lists the live notes and computes their text and
// fingerprint maps in one pass.
func (e *Engine) snapshotVault(ctx context.Context) ([]vault.Document, map[string]string, map[string]string, error) {
	docs, err := e.store.List(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	texts := make(map[string]string, len(docs))
	fingerprints := make(map[string]string, len(docs))
	for _, doc := range docs {
		text, err := e.store.ReadText(doc.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		texts[doc.Path] = text
		fingerprints[doc.Path] = ledger.Fingerprint(text)
	}
	return docs, texts, fingerprints, nil
}

// selectDocs picks the documents to publish: an explicit selection when
// given, otherwise everything not yet up to date.
func (e *Engine) selectDocs(docs []vault.Document, fingerprints map[string]string, selection []string, forceAll bool) ([]vault.Document, error) {
	if len(selection) > 0 {
		byPath := make(map[string]vault.Document, len(docs))
		for _, doc := range docs {
			byPath[doc.Path] = doc
		}

		selected := make([]vault.Document, 0, len(selection))
		for _, path := range selection {
			doc, ok := byPath[path]
			if !ok {
				return nil, fmt.Errorf("no such note in vault: %s", path)
			}
			selected = append(selected, doc)
		}
		return selected, nil
	}

	if forceAll {
		return docs, nil
	}

	records, err := e.ledger.All()
	if err != nil {
		return nil, err
	}

	var selected []vault.Document
	for _, entry := range ledger.Classify(docs, fingerprints, records) {
		if entry.Status == ledger.StatusUnpublished || entry.Status == ledger.StatusChanged {
			selected = append(selected, *entry.Doc)
		}
	}
	return selected, nil
}

// publishToMirror writes the rewritten notes and their attachments into
// the mirror. Image links are rewritten against the mirror's assets
// directory so the served pages resolve them site-relative.
func (e *Engine) publishToMirror(docs []vault.Document, texts map[string]string) (int, []error) {
	if err := e.targets.Mirror.EnsureTargets(); err != nil {
		return 0, []error{fmt.Errorf("mirror: %w", err)}
	}

	var items []mirror.Item
	seenAssets := make(map[string]bool)

	for _, doc := range docs {
		text := texts[doc.Path]

		rewritten := note.RewriteImageLinks(text, e.cfg.Mirror.AssetsDir, func(ref string) (string, bool) {
			return e.store.ResolveRef(ref, doc.Path)
		})
		items = append(items, mirror.Item{Target: doc.Path, Content: []byte(rewritten)})

		for _, ref := range note.ExtractImageRefs(text) {
			storePath, ok := e.store.ResolveRef(ref, doc.Path)
			if !ok {
				e.logger.Warn("image reference unresolved, skipping", "note", doc.Path, "ref", ref)
				continue
			}
			if seenAssets[storePath] {
				continue
			}
			seenAssets[storePath] = true

			data, err := e.store.ReadBinary(storePath)
			if err != nil {
				e.logger.Warn("failed to read attachment, skipping", "note", doc.Path, "attachment", storePath, "error", err)
				continue
			}
			items = append(items, mirror.Item{Target: storePath, IsAsset: true, Content: data})
		}
	}

	result := e.targets.Mirror.PublishMany(items)
	errs := make([]error, 0, len(result.Failed))
	for _, failed := range result.Failed {
		errs = append(errs, fmt.Errorf("mirror %s: %w", failed.Target, failed.Err))
	}
	return result.Succeeded, errs
}
