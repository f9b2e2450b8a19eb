// Package remote implements the batched publish/unpublish protocol
// against the git-hosting API: every publish or unpublish action becomes
// exactly one commit on the configured branch, built from blob uploads
// and a single tree, so readers of the repository never observe a
// half-published state.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tbuchli/notegarden/internal/config"
	"github.com/tbuchli/notegarden/internal/githost"
	"github.com/tbuchli/notegarden/internal/note"
	"github.com/tbuchli/notegarden/internal/vault"
)

// Publisher runs the publish protocol for one configured repository.
type Publisher struct {
	client githost.Client
	store  vault.Store
	cfg    config.GitHubConfig
	logger *slog.Logger
}

// NewPublisher creates a publisher for the configured github target.
func NewPublisher(client githost.Client, store vault.Store, cfg config.GitHubConfig, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// PublishResult reports what one publish commit contained.
type PublishResult struct {
	CommitSHA     string
	Notes         int
	Images        int
	SkippedImages int
	Bootstrapped  bool
}

// UnpublishResult reports what one unpublish commit removed.
type UnpublishResult struct {
	CommitSHA string
	Removed   int
}

// Publish writes the documents and their resolvable attachments to the
// branch as a single commit. Head lookup, note uploads, tree and commit
// creation are all fatal to the batch; a single attachment that cannot
// be resolved or uploaded is logged and skipped. On an empty repository
// the branch reference is created instead of updated.
func (p *Publisher) Publish(ctx context.Context, docs []vault.Document) (*PublishResult, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("nothing to publish")
	}

	baseTree, parent, err := p.resolveHead(ctx)
	if err != nil {
		return nil, err
	}
	bootstrap := parent == ""

	assetsBase := note.ResolvePublishPath(p.cfg.BasePath, p.cfg.AssetsDir, "")

	var entries []githost.TreeEntry
	assetEntries := make(map[string]githost.TreeEntry)
	result := &PublishResult{Notes: len(docs), Bootstrapped: bootstrap}

	for _, doc := range docs {
		text, err := p.store.ReadText(doc.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read note %s: %w", doc.Path, err)
		}

		rewritten := note.RewriteImageLinks(text, assetsBase, func(ref string) (string, bool) {
			return p.store.ResolveRef(ref, doc.Path)
		})

		blobSHA, err := p.client.CreateBlob(ctx, []byte(rewritten))
		if err != nil {
			return nil, fmt.Errorf("failed to upload note %s: %w", doc.Path, err)
		}

		published := note.ResolvePublishPath(p.cfg.BasePath, p.cfg.ContentDir, doc.Path)
		entries = append(entries, githost.TreeEntry{
			Path: published,
			Mode: githost.ModeBlob,
			Type: githost.TypeBlob,
			SHA:  blobSHA,
		})
		p.logger.Debug("note blob uploaded", "path", doc.Path, "published", published, "sha", blobSHA)

		// Attachments are extracted from the original text; references
		// the rewrite could not resolve are skipped here for the same
		// reason and must never abort the batch.
		for _, ref := range note.ExtractImageRefs(text) {
			storePath, ok := p.store.ResolveRef(ref, doc.Path)
			if !ok {
				p.logger.Warn("image reference unresolved, skipping", "note", doc.Path, "ref", ref)
				result.SkippedImages++
				continue
			}

			publishedAsset := note.ResolvePublishPath(p.cfg.BasePath, p.cfg.AssetsDir, storePath)
			if _, done := assetEntries[publishedAsset]; done {
				// Another note in this batch already published the same
				// target path; blobs are content-addressed so one write
				// covers both.
				continue
			}

			data, err := p.store.ReadBinary(storePath)
			if err != nil {
				p.logger.Warn("failed to read attachment, skipping", "note", doc.Path, "attachment", storePath, "error", err)
				result.SkippedImages++
				continue
			}

			blobSHA, err := p.client.CreateBlob(ctx, data)
			if err != nil {
				p.logger.Warn("failed to upload attachment, skipping", "note", doc.Path, "attachment", storePath, "error", err)
				result.SkippedImages++
				continue
			}

			assetEntries[publishedAsset] = githost.TreeEntry{
				Path: publishedAsset,
				Mode: githost.ModeBlob,
				Type: githost.TypeBlob,
				SHA:  blobSHA,
			}
		}
	}

	// Deterministic entry order keeps commit trees reproducible.
	assetPaths := make([]string, 0, len(assetEntries))
	for path := range assetEntries {
		assetPaths = append(assetPaths, path)
	}
	sort.Strings(assetPaths)
	for _, path := range assetPaths {
		entries = append(entries, assetEntries[path])
	}
	result.Images = len(assetEntries)

	treeSHA, err := p.client.CreateTree(ctx, baseTree, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree: %w", err)
	}

	message := fmt.Sprintf("Publish %d notes, %d images", result.Notes, result.Images)
	var parents []string
	if parent != "" {
		parents = []string{parent}
	}
	commitSHA, err := p.client.CreateCommit(ctx, treeSHA, message, parents)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit: %w", err)
	}
	result.CommitSHA = commitSHA

	if err := p.moveBranch(ctx, commitSHA, bootstrap); err != nil {
		return nil, err
	}

	p.logger.Info("published to repository",
		"commit", commitSHA,
		"notes", result.Notes,
		"images", result.Images,
		"skipped_images", result.SkippedImages,
		"bootstrap", bootstrap)
	return result, nil
}

// Unpublish removes the documents' entries from the branch as a single
// commit. The hosting API has no delete-from-tree primitive, so the new
// tree is built explicitly from every surviving blob entry of a full
// recursive listing.
func (p *Publisher) Unpublish(ctx context.Context, paths []string) (*UnpublishResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("nothing to unpublish")
	}

	headSHA, err := p.client.GetRef(ctx, p.cfg.Ref())
	if err != nil {
		if errors.Is(err, githost.ErrRefNotFound) {
			return nil, fmt.Errorf("branch %s has no published content", p.cfg.Branch)
		}
		return nil, err
	}

	head, err := p.client.GetCommit(ctx, headSHA)
	if err != nil {
		return nil, err
	}

	existing, err := p.client.GetTree(ctx, head.TreeSHA, true)
	if err != nil {
		return nil, err
	}

	targets := make(map[string]bool, len(paths))
	for _, docPath := range paths {
		targets[note.ResolvePublishPath(p.cfg.BasePath, p.cfg.ContentDir, docPath)] = true
	}

	removed := 0
	survivors := make([]githost.TreeEntry, 0, len(existing))
	for _, entry := range existing {
		// Recursive listings include tree entries for directories; the
		// rebuilt tree is specified through blobs only.
		if entry.Type != githost.TypeBlob {
			continue
		}
		if targets[entry.Path] {
			removed++
			continue
		}
		survivors = append(survivors, entry)
	}
	if removed == 0 {
		return nil, fmt.Errorf("none of the requested paths are published")
	}

	// No base tree here: the reduced tree must be explicit, otherwise
	// the removed entries would be carried forward from the base.
	treeSHA, err := p.client.CreateTree(ctx, "", survivors)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree: %w", err)
	}

	message := fmt.Sprintf("Unpublish %d notes", removed)
	commitSHA, err := p.client.CreateCommit(ctx, treeSHA, message, []string{headSHA})
	if err != nil {
		return nil, fmt.Errorf("failed to create commit: %w", err)
	}

	if err := p.client.UpdateRef(ctx, p.cfg.Ref(), commitSHA, !p.cfg.FastForwardOnly); err != nil {
		return nil, err
	}

	p.logger.Info("unpublished from repository", "commit", commitSHA, "removed", removed)
	return &UnpublishResult{CommitSHA: commitSHA, Removed: removed}, nil
}

// resolveHead returns the base tree and parent commit for the next
// publish commit. A missing branch reference is the empty-repository
// bootstrap signal: no base tree, no parent.
func (p *Publisher) resolveHead(ctx context.Context) (baseTree, parent string, err error) {
	headSHA, err := p.client.GetRef(ctx, p.cfg.Ref())
	if err != nil {
		if errors.Is(err, githost.ErrRefNotFound) {
			p.logger.Info("branch reference not found, bootstrapping empty repository", "branch", p.cfg.Branch)
			return "", "", nil
		}
		return "", "", err
	}

	head, err := p.client.GetCommit(ctx, headSHA)
	if err != nil {
		return "", "", err
	}
	return head.TreeSHA, headSHA, nil
}

// moveBranch points the branch at the new commit. On bootstrap the
// reference is created; if creation races with someone else having
// created it in the meantime, the same intent is retried as a forced
// update rather than surfaced as a failure.
func (p *Publisher) moveBranch(ctx context.Context, commitSHA string, bootstrap bool) error {
	if bootstrap {
		err := p.client.CreateRef(ctx, p.cfg.Ref(), commitSHA)
		if err == nil {
			return nil
		}
		if !errors.Is(err, githost.ErrRefExists) {
			return err
		}
		p.logger.Warn("branch reference appeared during bootstrap, retrying as forced update", "branch", p.cfg.Branch)
		return p.client.UpdateRef(ctx, p.cfg.Ref(), commitSHA, true)
	}
	return p.client.UpdateRef(ctx, p.cfg.Ref(), commitSHA, !p.cfg.FastForwardOnly)
}
