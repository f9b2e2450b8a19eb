package githost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return New(srv.URL, "user", "garden", "tok123"), srv
}

func TestGetRef(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/user/garden/git/ref/heads/main" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("unexpected auth header: %q", got)
		}
		_, _ = w.Write([]byte(`{"ref":"refs/heads/main","object":{"sha":"abc123","type":"commit"}}`))
	})
	defer srv.Close()

	sha, err := client.GetRef(context.Background(), "heads/main")
	if err != nil {
		t.Fatalf("GetRef failed: %v", err)
	}
	if sha != "abc123" {
		t.Errorf("GetRef = %q, want abc123", sha)
	}
}

func TestGetRefNotFound(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})
	defer srv.Close()

	_, err := client.GetRef(context.Background(), "heads/main")
	if !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("expected ErrRefNotFound, got %v", err)
	}
}

func TestGetCommit(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/user/garden/git/commits/c1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"sha":"c1","tree":{"sha":"t1"},"parents":[{"sha":"c0"}]}`))
	})
	defer srv.Close()

	commit, err := client.GetCommit(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCommit failed: %v", err)
	}
	if commit.TreeSHA != "t1" || len(commit.Parents) != 1 || commit.Parents[0] != "c0" {
		t.Errorf("unexpected commit: %+v", commit)
	}
}

func TestGetTree(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("recursive") != "1" {
			t.Error("expected recursive listing")
		}
		_, _ = w.Write([]byte(`{"tree":[{"path":"a.md","mode":"100644","type":"blob","sha":"b1"}],"truncated":false}`))
	})
	defer srv.Close()

	entries, err := client.GetTree(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("GetTree failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "a.md" || entries[0].SHA != "b1" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestGetTreeTruncated(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tree":[],"truncated":true}`))
	})
	defer srv.Close()

	if _, err := client.GetTree(context.Background(), "t1", true); err == nil {
		t.Fatal("expected error for truncated tree listing")
	}
}

func TestCreateBlob(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Encoding != "base64" {
			t.Errorf("unexpected encoding: %s", body.Encoding)
		}
		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil || string(decoded) != "hello" {
			t.Errorf("unexpected content: %q (%v)", body.Content, err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sha":"blob1"}`))
	})
	defer srv.Close()

	sha, err := client.CreateBlob(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("CreateBlob failed: %v", err)
	}
	if sha != "blob1" {
		t.Errorf("CreateBlob = %q, want blob1", sha)
	}
}

func TestCreateTree(t *testing.T) {
	var got map[string]any
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sha":"tree1"}`))
	})
	defer srv.Close()

	entries := []TreeEntry{{Path: "a.md", Mode: ModeBlob, Type: TypeBlob, SHA: "b1"}}

	sha, err := client.CreateTree(context.Background(), "base1", entries)
	if err != nil {
		t.Fatalf("CreateTree failed: %v", err)
	}
	if sha != "tree1" {
		t.Errorf("CreateTree = %q, want tree1", sha)
	}
	if got["base_tree"] != "base1" {
		t.Errorf("base_tree = %v, want base1", got["base_tree"])
	}

	// Without a base tree the field must be absent entirely, not empty.
	got = nil
	if _, err := client.CreateTree(context.Background(), "", entries); err != nil {
		t.Fatalf("CreateTree failed: %v", err)
	}
	if _, present := got["base_tree"]; present {
		t.Error("base_tree must be omitted for bootstrap trees")
	}
}

func TestCreateCommit(t *testing.T) {
	var got map[string]any
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sha":"commit1"}`))
	})
	defer srv.Close()

	sha, err := client.CreateCommit(context.Background(), "tree1", "msg", nil)
	if err != nil {
		t.Fatalf("CreateCommit failed: %v", err)
	}
	if sha != "commit1" {
		t.Errorf("CreateCommit = %q, want commit1", sha)
	}
	parents, ok := got["parents"].([]any)
	if !ok || len(parents) != 0 {
		t.Errorf("parents = %v, want empty list", got["parents"])
	}
}

func TestCreateRefAlreadyExists(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Reference already exists"}`))
	})
	defer srv.Close()

	err := client.CreateRef(context.Background(), "heads/main", "c1")
	if !errors.Is(err, ErrRefExists) {
		t.Fatalf("expected ErrRefExists, got %v", err)
	}
}

func TestUpdateRefForce(t *testing.T) {
	var got map[string]any
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(`{"ref":"refs/heads/main"}`))
	})
	defer srv.Close()

	if err := client.UpdateRef(context.Background(), "heads/main", "c2", true); err != nil {
		t.Fatalf("UpdateRef failed: %v", err)
	}
	if got["sha"] != "c2" || got["force"] != true {
		t.Errorf("unexpected body: %v", got)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	})
	defer srv.Close()

	_, err := client.GetCommit(context.Background(), "c1")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Bad credentials" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}
