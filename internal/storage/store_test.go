package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestSnippetLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	snippet := Snippet{
		ID:       "snip-1",
		Title:    "fibonacci",
		Language: "go",
		Code:     "func fib(n int) int { return n }",
		Tags:     []string{"math", "demo"},
		AuthorID: "user-a",
	}
	if err := store.CreateSnippet(ctx, snippet); err != nil {
		t.Fatalf("CreateSnippet: %v", err)
	}

	got, err := store.GetSnippet(ctx, "snip-1")
	if err != nil {
		t.Fatalf("GetSnippet: %v", err)
	}
	if got.Title != "fibonacci" || got.AuthorID != "user-a" {
		t.Fatalf("unexpected snippet: %+v", got)
	}
	if !reflect.DeepEqual(got.Tags, []string{"math", "demo"}) {
		t.Fatalf("unexpected tags: %v", got.Tags)
	}

	if _, err := store.GetSnippet(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSnippetSparse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.CreateSnippet(ctx, Snippet{
		ID:          "snip-1",
		Title:       "original",
		Description: "keep me",
		Language:    "go",
		AuthorID:    "user-a",
	}); err != nil {
		t.Fatalf("CreateSnippet: %v", err)
	}

	// Only title changes; every other column must survive untouched.
	title := "renamed"
	got, err := store.UpdateSnippet(ctx, "snip-1", SnippetUpdate{Title: &title})
	if err != nil {
		t.Fatalf("UpdateSnippet: %v", err)
	}
	if got.Title != "renamed" {
		t.Fatalf("title not updated: %+v", got)
	}
	if got.Description != "keep me" || got.Language != "go" {
		t.Fatalf("sparse update clobbered other fields: %+v", got)
	}

	// An explicit empty string is a clear, not an absence.
	empty := ""
	got, err = store.UpdateSnippet(ctx, "snip-1", SnippetUpdate{Description: &empty})
	if err != nil {
		t.Fatalf("UpdateSnippet clear: %v", err)
	}
	if got.Description != "" {
		t.Fatalf("expected cleared description, got %q", got.Description)
	}
	if got.Title != "renamed" {
		t.Fatalf("clear touched title: %+v", got)
	}

	if _, err := store.UpdateSnippet(ctx, "missing", SnippetUpdate{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSnippetCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.CreateSnippet(ctx, Snippet{ID: "snip-1", AuthorID: "user-a"}); err != nil {
		t.Fatalf("CreateSnippet: %v", err)
	}
	if err := store.CreateShareCode(ctx, "ABCD1234", "snip-1"); err != nil {
		t.Fatalf("CreateShareCode: %v", err)
	}
	if err := store.DeleteSnippet(ctx, "snip-1"); err != nil {
		t.Fatalf("DeleteSnippet: %v", err)
	}
	if _, err := store.ResolveShareCode(ctx, "ABCD1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cascade to remove share code, got %v", err)
	}
	if err := store.DeleteSnippet(ctx, "snip-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestShareCodes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.CreateSnippet(ctx, Snippet{ID: "snip-1", Title: "shared", AuthorID: "user-a"}); err != nil {
		t.Fatalf("CreateSnippet: %v", err)
	}
	if err := store.CreateShareCode(ctx, "CODE-1", "snip-1"); err != nil {
		t.Fatalf("CreateShareCode: %v", err)
	}
	if err := store.CreateShareCode(ctx, "CODE-1", "snip-1"); !errors.Is(err, ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}

	got, err := store.ResolveShareCode(ctx, "CODE-1")
	if err != nil {
		t.Fatalf("ResolveShareCode: %v", err)
	}
	if got.ID != "snip-1" || got.Title != "shared" {
		t.Fatalf("unexpected snippet: %+v", got)
	}

	code, err := store.ShareCodeFor(ctx, "snip-1")
	if err != nil {
		t.Fatalf("ShareCodeFor: %v", err)
	}
	if code != "CODE-1" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestListSnippetsByAuthor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := store.CreateSnippet(ctx, Snippet{ID: id, AuthorID: "user-a"}); err != nil {
			t.Fatalf("CreateSnippet %s: %v", id, err)
		}
	}
	if err := store.CreateSnippet(ctx, Snippet{ID: "c", AuthorID: "user-b"}); err != nil {
		t.Fatalf("CreateSnippet c: %v", err)
	}

	snippets, err := store.ListSnippetsByAuthor(ctx, "user-a")
	if err != nil {
		t.Fatalf("ListSnippetsByAuthor: %v", err)
	}
	if len(snippets) != 2 {
		t.Fatalf("expected 2 snippets, got %d", len(snippets))
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
