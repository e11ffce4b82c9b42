package ghapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tidwall/gjson"
)

// gitFake emulates the object-graph endpoints with just enough state to
// observe ordering and ref movement.
type gitFake struct {
	mu       sync.Mutex
	refSHA   string
	steps    []string
	blobs    map[string]string // sha -> content
	treeReq  string            // raw body of the tree creation request
	commit   string            // raw body of the commit creation request
	updRef   string            // raw body of the ref update request
	updForce bool
	failRef  int // if non-zero, respond to ref update with this status
}

func newGitFake(tip string) *gitFake {
	return &gitFake{refSHA: tip, blobs: map[string]string{}}
}

func (g *gitFake) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /repos/o/r/git/ref/heads/feature", func(w http.ResponseWriter, r *http.Request) {
		g.record("get_ref")
		fmt.Fprintf(w, `{"ref": "refs/heads/feature", "object": {"sha": %q, "type": "commit"}}`, g.refSHA)
	})
	mux.HandleFunc("GET /repos/o/r/git/commits/", func(w http.ResponseWriter, r *http.Request) {
		g.record("get_commit")
		fmt.Fprint(w, `{"sha": "tip000", "tree": {"sha": "basetree"}}`)
	})
	mux.HandleFunc("POST /repos/o/r/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		g.record("create_blob")
		body, _ := io.ReadAll(r.Body)
		content := gjson.GetBytes(body, "content").String()
		g.mu.Lock()
		sha := fmt.Sprintf("blob%d", len(g.blobs))
		g.blobs[sha] = content
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"sha": %q}`, sha)
	})
	mux.HandleFunc("POST /repos/o/r/git/trees", func(w http.ResponseWriter, r *http.Request) {
		g.record("create_tree")
		body, _ := io.ReadAll(r.Body)
		g.mu.Lock()
		g.treeReq = string(body)
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha": "newtree"}`)
	})
	mux.HandleFunc("POST /repos/o/r/git/commits", func(w http.ResponseWriter, r *http.Request) {
		g.record("create_commit")
		body, _ := io.ReadAll(r.Body)
		g.mu.Lock()
		g.commit = string(body)
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sha": "newcommit1234567"}`)
	})
	mux.HandleFunc("PATCH /repos/o/r/git/refs/heads/feature", func(w http.ResponseWriter, r *http.Request) {
		g.record("update_ref")
		body, _ := io.ReadAll(r.Body)
		g.mu.Lock()
		g.updRef = string(body)
		g.updForce = gjson.GetBytes(body, "force").Bool()
		fail := g.failRef
		g.mu.Unlock()
		if fail != 0 {
			w.WriteHeader(fail)
			fmt.Fprint(w, `{"message": "Update is not a fast forward"}`)
			return
		}
		g.mu.Lock()
		g.refSHA = gjson.GetBytes(body, "sha").String()
		g.mu.Unlock()
		fmt.Fprintf(w, `{"ref": "refs/heads/feature", "object": {"sha": %q}}`, g.refSHA)
	})

	return httptest.NewServer(mux)
}

func (g *gitFake) record(step string) {
	g.mu.Lock()
	g.steps = append(g.steps, step)
	g.mu.Unlock()
}

func TestCreateFixCommit(t *testing.T) {
	fake := newGitFake("tip000")
	srv := fake.server(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	sha, err := c.CreateFixCommit(context.Background(), "o", "r", "feature",
		map[string]string{"b.py": "fixed b", "a.py": "fixed a"}, "autofix")
	if err != nil {
		t.Fatalf("CreateFixCommit: %v", err)
	}
	if sha != "newcommit1234567" {
		t.Errorf("commit sha = %q", sha)
	}
	if fake.refSHA != "newcommit1234567" {
		t.Errorf("ref advanced to %q, want new commit", fake.refSHA)
	}
	if fake.updForce {
		t.Error("ref update must be fast-forward only (force=false)")
	}

	// Strict step ordering: ref, base commit, blobs, tree, commit, ref update.
	want := []string{"get_ref", "get_commit", "create_blob", "create_blob", "create_tree", "create_commit", "update_ref"}
	if len(fake.steps) != len(want) {
		t.Fatalf("steps = %v", fake.steps)
	}
	for i := range want {
		if fake.steps[i] != want[i] {
			t.Fatalf("step %d = %q, want %q (all: %v)", i, fake.steps[i], want[i], fake.steps)
		}
	}

	// Tree overlays only the listed files onto the existing base tree.
	if got := gjson.Get(fake.treeReq, "base_tree").String(); got != "basetree" {
		t.Errorf("base_tree = %q", got)
	}
	var treeBody struct {
		Tree []struct {
			Path string `json:"path"`
			Mode string `json:"mode"`
		} `json:"tree"`
	}
	if err := json.Unmarshal([]byte(fake.treeReq), &treeBody); err != nil {
		t.Fatal(err)
	}
	if len(treeBody.Tree) != 2 {
		t.Fatalf("tree entries = %d, want 2", len(treeBody.Tree))
	}
	// Deterministic (sorted) blob order.
	if treeBody.Tree[0].Path != "a.py" || treeBody.Tree[1].Path != "b.py" {
		t.Errorf("tree paths = %+v", treeBody.Tree)
	}

	// Sole parent is the branch tip. The create-commit body carries parents
	// as bare SHA strings and the tree as its SHA.
	parents := gjson.Get(fake.commit, "parents").Array()
	if len(parents) != 1 || parents[0].String() != "tip000" {
		t.Errorf("commit parents = %s", gjson.Get(fake.commit, "parents").Raw)
	}
	if got := gjson.Get(fake.commit, "tree").String(); got != "newtree" {
		t.Errorf("commit tree = %q", got)
	}
}

func TestCreateFixCommitNonFastForward(t *testing.T) {
	fake := newGitFake("tip000")
	fake.failRef = http.StatusUnprocessableEntity
	srv := fake.server(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.CreateFixCommit(context.Background(), "o", "r", "feature",
		map[string]string{"a.py": "x"}, "autofix")
	if !errors.Is(err, ErrNonFastForward) {
		t.Fatalf("expected ErrNonFastForward, got %v", err)
	}
	// The branch is untouched by a failed ref update.
	if fake.refSHA != "tip000" {
		t.Errorf("ref moved to %q on failed update", fake.refSHA)
	}
}

func TestCreateFixCommitForbidden(t *testing.T) {
	fake := newGitFake("tip000")
	fake.failRef = http.StatusForbidden
	srv := fake.server(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.CreateFixCommit(context.Background(), "o", "r", "feature",
		map[string]string{"a.py": "x"}, "autofix")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateFixCommitBranchNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.CreateFixCommit(context.Background(), "o", "r", "gone",
		map[string]string{"a.py": "x"}, "autofix")
	if !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("expected ErrBranchNotFound, got %v", err)
	}
}

func TestCreateFixCommitEmptySet(t *testing.T) {
	c := &Client{}
	if _, err := c.CreateFixCommit(context.Background(), "o", "r", "b", nil, "m"); err == nil {
		t.Error("expected error for empty file set")
	}
}
