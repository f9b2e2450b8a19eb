// Package githost is a minimal client for the git data endpoints of a
// GitHub-style hosting API: blobs, trees, commits and branch references.
// It covers exactly the surface the publish protocol needs.
package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ModeBlob is the canonical tree-entry mode for a regular file.
const ModeBlob = "100644"

// TypeBlob is the tree-entry type for file content.
const TypeBlob = "blob"

var (
	// ErrRefNotFound is returned when the branch reference does not
	// exist. On a fresh repository this is the bootstrap signal, not a
	// failure.
	ErrRefNotFound = errors.New("branch reference not found")

	// ErrRefExists is returned when creating a reference that already
	// exists; callers retry the same intent as a forced update.
	ErrRefExists = errors.New("branch reference already exists")
)

// APIError is a non-2xx response from the hosting API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "hosting API error: " + strconv.Itoa(e.StatusCode)
	}
	return fmt.Sprintf("hosting API error %d: %s", e.StatusCode, e.Message)
}

// TreeEntry is one file's location in a snapshot.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha,omitempty"`
}

// Commit is the subset of commit metadata the protocol reads back.
type Commit struct {
	SHA     string
	TreeSHA string
	Parents []string
}

// Client is the hosting API operation set the publish protocol depends
// on. Implementations must be safe for sequential use; the protocol
// never issues concurrent calls.
type Client interface {
	// GetRef returns the commit sha a branch reference points at.
	GetRef(ctx context.Context, ref string) (string, error)
	// GetCommit returns the commit identified by sha.
	GetCommit(ctx context.Context, sha string) (*Commit, error)
	// GetTree returns the entries of the tree identified by sha,
	// recursively when requested.
	GetTree(ctx context.Context, sha string, recursive bool) ([]TreeEntry, error)
	// CreateBlob uploads content and returns its blob sha. Uploading
	// identical bytes twice yields the same sha.
	CreateBlob(ctx context.Context, content []byte) (string, error)
	// CreateTree builds a tree from the entries, merged on top of
	// baseTreeSHA when it is non-empty.
	CreateTree(ctx context.Context, baseTreeSHA string, entries []TreeEntry) (string, error)
	// CreateCommit creates a commit pointing at treeSHA.
	CreateCommit(ctx context.Context, treeSHA, message string, parents []string) (string, error)
	// CreateRef creates a new branch reference pointing at sha.
	CreateRef(ctx context.Context, ref, sha string) error
	// UpdateRef moves an existing branch reference to sha.
	UpdateRef(ctx context.Context, ref, sha string, force bool) error
}

// HTTPClient implements Client against a GitHub-style REST API.
type HTTPClient struct {
	baseURL string
	owner   string
	repo    string
	token   string
	http    *http.Client
}

// New creates a hosting API client for the given repository.
func New(baseURL, owner, repo, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		owner:   owner,
		repo:    repo,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// GetRef fetches the branch reference, e.g. ref "heads/main".
func (c *HTTPClient) GetRef(ctx context.Context, ref string) (string, error) {
	var out refResponse
	err := c.do(ctx, http.MethodGet, "/git/ref/"+ref, nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrRefNotFound, ref)
		}
		return "", fmt.Errorf("failed to get ref %s: %w", ref, err)
	}
	return out.Object.SHA, nil
}

// GetCommit fetches a commit object.
func (c *HTTPClient) GetCommit(ctx context.Context, sha string) (*Commit, error) {
	var out struct {
		SHA  string `json:"sha"`
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
		Parents []struct {
			SHA string `json:"sha"`
		} `json:"parents"`
	}
	if err := c.do(ctx, http.MethodGet, "/git/commits/"+sha, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", sha, err)
	}

	commit := &Commit{SHA: out.SHA, TreeSHA: out.Tree.SHA}
	for _, p := range out.Parents {
		commit.Parents = append(commit.Parents, p.SHA)
	}
	return commit, nil
}

// GetTree fetches the entries of a tree, flattened when recursive.
func (c *HTTPClient) GetTree(ctx context.Context, sha string, recursive bool) ([]TreeEntry, error) {
	path := "/git/trees/" + sha
	if recursive {
		path += "?recursive=1"
	}

	var out struct {
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get tree %s: %w", sha, err)
	}
	if out.Truncated {
		return nil, fmt.Errorf("tree %s listing truncated by the hosting API; refusing to operate on a partial snapshot", sha)
	}
	return out.Tree, nil
}

// CreateBlob uploads content as a base64-encoded blob.
func (c *HTTPClient) CreateBlob(ctx context.Context, content []byte) (string, error) {
	body := map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}

	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, "/git/blobs", body, &out); err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	return out.SHA, nil
}

// CreateTree builds a new tree, on top of baseTreeSHA when given. The
// API carries entries at untouched paths forward from the base tree.
func (c *HTTPClient) CreateTree(ctx context.Context, baseTreeSHA string, entries []TreeEntry) (string, error) {
	body := map[string]any{"tree": entries}
	if baseTreeSHA != "" {
		body["base_tree"] = baseTreeSHA
	}

	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, "/git/trees", body, &out); err != nil {
		return "", fmt.Errorf("failed to create tree: %w", err)
	}
	return out.SHA, nil
}

// CreateCommit creates a commit; parents may be empty on bootstrap.
func (c *HTTPClient) CreateCommit(ctx context.Context, treeSHA, message string, parents []string) (string, error) {
	if parents == nil {
		parents = []string{}
	}
	body := map[string]any{
		"message": message,
		"tree":    treeSHA,
		"parents": parents,
	}

	var out struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, "/git/commits", body, &out); err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}
	return out.SHA, nil
}

// CreateRef creates the branch reference, e.g. ref "heads/main".
func (c *HTTPClient) CreateRef(ctx context.Context, ref, sha string) error {
	body := map[string]string{
		"ref": "refs/" + ref,
		"sha": sha,
	}
	if err := c.do(ctx, http.MethodPost, "/git/refs", body, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s", ErrRefExists, ref)
		}
		return fmt.Errorf("failed to create ref %s: %w", ref, err)
	}
	return nil
}

// UpdateRef points the branch reference at sha. With force false the
// API rejects non-fast-forward updates.
func (c *HTTPClient) UpdateRef(ctx context.Context, ref, sha string, force bool) error {
	body := map[string]any{
		"sha":   sha,
		"force": force,
	}
	if err := c.do(ctx, http.MethodPatch, "/git/refs/"+ref, body, nil); err != nil {
		return fmt.Errorf("failed to update ref %s: %w", ref, err)
	}
	return nil
}

// do performs one API request against the repository and decodes the
// JSON response into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	url := fmt.Sprintf("%s/repos/%s/%s%s", c.baseURL, c.owner, c.repo, path)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &errBody) == nil {
			apiErr.Message = errBody.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
