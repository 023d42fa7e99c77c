package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeshare/internal/storage"
)

func newRESTServer(t *testing.T) (*SnippetAPI, *Server) {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	srv := NewServer(store)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snippets", srv.HandleSnippets)
	mux.HandleFunc("/api/snippets/", srv.HandleSnippetByID)
	mux.HandleFunc("/api/share/", srv.HandleShareCode)
	mux.HandleFunc("/exists", srv.HandleRoomExists)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return NewSnippetAPI(ts.URL), srv
}

func TestSnippetRESTLifecycle(t *testing.T) {
	api, _ := newRESTServer(t)

	created, err := api.CreateSnippet(createSnippetRequest{
		Title:    "fib",
		Language: "go",
		Code:     "func fib(n int) int { return n }",
		Tags:     []string{"math"},
		AuthorID: "u-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.ShareCode == "" {
		t.Fatalf("created = %+v, want id and share code minted", created)
	}

	fetched, err := api.FetchSnippet(created.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched.Title != "fib" || fetched.ShareCode != created.ShareCode {
		t.Fatalf("fetched = %+v", fetched)
	}

	resolved, err := api.ResolveShareCode(created.ShareCode)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != created.ID {
		t.Fatalf("resolved id = %q, want %q", resolved.ID, created.ID)
	}

	title := "fibonacci"
	updated, err := api.UpdateSnippet(created.ID, updateSnippetRequest{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "fibonacci" || updated.Language != "go" {
		t.Fatalf("updated = %+v, want only the title changed", updated)
	}

	if err := api.DeleteSnippet(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := api.FetchSnippet(created.ID); !errors.Is(err, ErrAPINotFound) {
		t.Fatalf("fetch after delete = %v, want ErrAPINotFound", err)
	}
}

func TestResolveUnknownShareCode(t *testing.T) {
	api, _ := newRESTServer(t)
	if _, err := api.ResolveShareCode("NOSUCH"); !errors.Is(err, ErrAPINotFound) {
		t.Fatalf("err = %v, want ErrAPINotFound", err)
	}
}

func TestCreateSnippetRequiresAuthor(t *testing.T) {
	api, _ := newRESTServer(t)
	if _, err := api.CreateSnippet(createSnippetRequest{Title: "orphan"}); err == nil {
		t.Fatal("create without author accepted")
	}
}

func TestRoomExistsCoversStoreAndHub(t *testing.T) {
	api, srv := newRESTServer(t)

	ok, err := api.RoomExists("nowhere")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("phantom room reported as existing")
	}

	// A persisted snippet's room exists with nobody connected.
	created, err := api.CreateSnippet(createSnippetRequest{Title: "fib", AuthorID: "u-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := api.RoomExists(created.ID); !ok {
		t.Fatal("persisted room not found")
	}

	// A live ad-hoc room exists while anyone is in it.
	srv.Hub().getOrCreateRoom("adhoc-room")
	if ok, _ := api.RoomExists("adhoc-room"); !ok {
		t.Fatal("live room not found")
	}
}

func TestAutosaveThroughAPI(t *testing.T) {
	api, _ := newRESTServer(t)

	created, err := api.CreateSnippet(createSnippetRequest{Title: "draft", Language: "go", AuthorID: "u-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = api.SaveSnippet(context.Background(), created.ID,
		CodeState{Code: "package main", Language: "go"},
		Metadata{Title: "draft", Description: "wip"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	fetched, err := api.FetchSnippet(created.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched.Code != "package main" || fetched.Description != "wip" {
		t.Fatalf("fetched = %+v, want the autosaved state", fetched)
	}
}
