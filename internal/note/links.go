package note

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// The two embedded-image syntaxes recognized in note text: the wikilink
// form ![[target]] (optionally with an |alias) and the standard markdown
// form ![alt](target).
var (
	wikiImageRe = regexp.MustCompile(`!\[\[([^\[\]]+)\]\]`)
	mdImageRe   = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	schemeRe    = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://`)
)

// ExtractImageRefs returns the distinct image references embedded in
// text, in first-seen order. References that are already absolute URLs
// are excluded; those stay untouched at publish time.
func ExtractImageRefs(text string) []string {
	seen := make(map[string]bool)
	var refs []string

	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" || schemeRe.MatchString(ref) || seen[ref] {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	for _, m := range wikiImageRe.FindAllStringSubmatch(text, -1) {
		target, _ := splitWikiTarget(m[1])
		add(target)
	}
	for _, m := range mdImageRe.FindAllStringSubmatch(text, -1) {
		add(splitMarkdownTarget(m[2]))
	}

	return refs
}

// RewriteImageLinks replaces every embedded image reference with a
// markdown link pointing at its published location under assetsBase.
// resolve maps a reference string to the attachment's vault path; when
// it reports no match the reference is left byte-identical, as are
// references that already carry a URL scheme. Each path segment of the
// published location is percent-encoded individually so slashes survive
// as separators.
func RewriteImageLinks(text, assetsBase string, resolve func(ref string) (string, bool)) string {
	text = wikiImageRe.ReplaceAllStringFunc(text, func(match string) string {
		m := wikiImageRe.FindStringSubmatch(match)
		target, alias := splitWikiTarget(m[1])
		if schemeRe.MatchString(target) {
			return match
		}
		storePath, ok := resolve(target)
		if !ok {
			return match
		}
		alt := alias
		if alt == "" {
			alt = strings.TrimSuffix(path.Base(storePath), path.Ext(storePath))
		}
		return fmt.Sprintf("![%s](%s)", alt, publishedURL(assetsBase, storePath))
	})

	return mdImageRe.ReplaceAllStringFunc(text, func(match string) string {
		m := mdImageRe.FindStringSubmatch(match)
		target := splitMarkdownTarget(m[2])
		if schemeRe.MatchString(target) {
			return match
		}
		storePath, ok := resolve(target)
		if !ok {
			return match
		}
		return fmt.Sprintf("![%s](%s)", m[1], publishedURL(assetsBase, storePath))
	})
}

// publishedURL builds the site-absolute URL for an attachment.
func publishedURL(assetsBase, storePath string) string {
	return "/" + escapePathSegments(ResolvePublishPath(assetsBase, "", storePath))
}

// escapePathSegments percent-encodes each segment of a slash-separated
// path, leaving the separators intact.
func escapePathSegments(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// splitWikiTarget separates a wikilink body into its target and optional
// alias, dropping any #heading fragment from the target.
func splitWikiTarget(body string) (target, alias string) {
	target = body
	if i := strings.Index(body, "|"); i >= 0 {
		target, alias = body[:i], strings.TrimSpace(body[i+1:])
	}
	if i := strings.Index(target, "#"); i >= 0 {
		target = target[:i]
	}
	return strings.TrimSpace(target), alias
}

// splitMarkdownTarget strips an optional quoted title from a markdown
// link target, e.g. `img.png "caption"`.
func splitMarkdownTarget(body string) string {
	body = strings.TrimSpace(body)
	if i := strings.Index(body, ` "`); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}
