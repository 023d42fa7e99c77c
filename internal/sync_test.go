package internal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSaver struct {
	mu    sync.Mutex
	calls []savedSnippet
	err   error
}

type savedSnippet struct {
	id   string
	code CodeState
	meta Metadata
}

func (f *fakeSaver) SaveSnippet(_ context.Context, snippetID string, code CodeState, meta Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, savedSnippet{id: snippetID, code: code, meta: meta})
	return f.err
}

func (f *fakeSaver) saved() []savedSnippet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedSnippet(nil), f.calls...)
}

func newTestCodeSync(tr *fakeTransport, owner bool, cfg CodeSyncConfig, onRemote func(CodeChangeMessage), onSynced func(CodeState, Metadata)) (*CodeSync, *MetadataSync) {
	identity := SessionContext{UserID: "me", Username: "ada"}
	isOwner := func() bool { return owner }
	meta := NewMetadataSync(tr, "ROOM", identity, isOwner, nil)
	if cfg.Window == 0 {
		cfg.Window = 20 * time.Millisecond
	}
	return NewCodeSync(tr, "ROOM", identity, meta, isOwner, cfg, onRemote, onSynced), meta
}

func TestLocalEditsCoalesceIntoOneBroadcast(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestCodeSync(tr, true, CodeSyncConfig{}, nil, nil)

	c.LocalEdit("f", "go")
	c.LocalEdit("fu", "go")
	c.LocalEdit("func main() {}", "go")

	if state := c.State(); state != SyncEditing {
		t.Fatalf("state = %v inside the window, want editing", state)
	}
	time.Sleep(80 * time.Millisecond)

	sent := tr.sentTo(codeSendTopic("ROOM"))
	if len(sent) != 1 {
		t.Fatalf("broadcasts = %d, want the burst collapsed into 1", len(sent))
	}
	msg := decodeFrame[CodeChangeMessage](t, sent[0])
	if msg.Code != "func main() {}" || msg.Language != "go" || msg.UserID != "me" {
		t.Fatalf("broadcast = %+v, want the final full snapshot", msg)
	}
	if state := c.State(); state != SyncSynced {
		t.Fatalf("state = %v after flush, want synced", state)
	}
}

func TestRemoteCodeAppliesAndEchoDropped(t *testing.T) {
	tr := newFakeTransport()
	var remote []CodeChangeMessage
	c, _ := newTestCodeSync(tr, false, CodeSyncConfig{}, func(msg CodeChangeMessage) {
		remote = append(remote, msg)
	}, nil)
	c.SetCode(CodeState{Code: "original", Language: "go"})

	echo, _ := json.Marshal(CodeChangeMessage{UserID: "me", Code: "looped back"})
	c.handleCode(echo)
	if code := c.Code(); code.Code != "original" {
		t.Fatalf("code = %q, want own echo dropped", code.Code)
	}
	if len(remote) != 0 {
		t.Fatal("onRemote fired for own echo")
	}

	theirs, _ := json.Marshal(CodeChangeMessage{UserID: "u-2", Username: "grace", Code: "updated", Language: "go"})
	c.handleCode(theirs)
	if code := c.Code(); code.Code != "updated" {
		t.Fatalf("code = %q, want remote edit applied", code.Code)
	}
	if len(remote) != 1 || remote[0].Username != "grace" {
		t.Fatalf("onRemote = %v, want one call for the remote edit", remote)
	}
}

func TestOwnerAnswersSyncRequest(t *testing.T) {
	tr := newFakeTransport()
	c, meta := newTestCodeSync(tr, true, CodeSyncConfig{}, nil, nil)
	c.SetCode(CodeState{Code: "func main() {}", Language: "go"})
	meta.setAll(Metadata{Title: "fib", Description: "classic", Language: "go", Tags: []string{"math"}})

	request, _ := json.Marshal(SyncMessage{Type: "sync_request", UserID: "u-2", Username: "grace"})
	c.handleSync(request)

	sent := tr.sentTo(syncSendTopic("ROOM"))
	if len(sent) != 1 {
		t.Fatalf("responses = %d, want 1", len(sent))
	}
	msg := decodeFrame[SyncMessage](t, sent[0])
	if msg.Type != "sync_response" || msg.Code != "func main() {}" {
		t.Fatalf("response = %+v", msg)
	}
	if msg.Title == nil || *msg.Title != "fib" || len(msg.Tags) != 1 {
		t.Fatalf("response metadata = %+v, want the live metadata included", msg)
	}
}

func TestJoineeIgnoresSyncRequest(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestCodeSync(tr, false, CodeSyncConfig{}, nil, nil)

	request, _ := json.Marshal(SyncMessage{Type: "sync_request", UserID: "u-2"})
	c.handleSync(request)

	if sent := tr.sentTo(syncSendTopic("ROOM")); len(sent) != 0 {
		t.Fatalf("responses = %d, want silence from a non-owner", len(sent))
	}
}

func TestOwnSyncEchoIgnored(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestCodeSync(tr, true, CodeSyncConfig{}, nil, nil)
	c.markJoining()

	// The shared topic loops our own request back; answering it would be
	// a response to ourselves.
	echo, _ := json.Marshal(SyncMessage{Type: "sync_request", UserID: "me"})
	c.handleSync(echo)

	if sent := tr.sentTo(syncSendTopic("ROOM")); len(sent) != 0 {
		t.Fatalf("responses = %d, want own request ignored", len(sent))
	}
}

func TestSyncResponseBootstrapsJoiner(t *testing.T) {
	tr := newFakeTransport()
	var synced []CodeState
	c, meta := newTestCodeSync(tr, false, CodeSyncConfig{}, nil, func(code CodeState, _ Metadata) {
		synced = append(synced, code)
	})
	c.markJoining()

	response, _ := json.Marshal(SyncMessage{
		Type:     "sync_response",
		UserID:   "owner",
		Code:     "func main() {}",
		Language: "go",
		Title:    strPtr("fib"),
		Tags:     []string{"math"},
	})
	c.handleSync(response)

	if state := c.State(); state != SyncSynced {
		t.Fatalf("state = %v, want synced after bootstrap", state)
	}
	if code := c.Code(); code.Code != "func main() {}" || code.Language != "go" {
		t.Fatalf("code = %+v", code)
	}
	current := meta.Current()
	if current.Title != "fib" || current.Language != "go" || len(current.Tags) != 1 {
		t.Fatalf("metadata = %+v, want the response applied as truth", current)
	}
	if len(synced) != 1 {
		t.Fatalf("onSynced fired %d times, want 1", len(synced))
	}
}

func TestFailedBroadcastIsDropped(t *testing.T) {
	tr := newFakeTransport()
	tr.failPublish[codeSendTopic("ROOM")] = errors.New("socket gone")
	c, _ := newTestCodeSync(tr, true, CodeSyncConfig{}, nil, nil)

	c.LocalEdit("lost", "go")
	time.Sleep(60 * time.Millisecond)

	if c.debounce.Pending() {
		t.Fatal("failed broadcast left a retry queued")
	}

	// The next edit carries a fresh full snapshot; nothing replays.
	delete(tr.failPublish, codeSendTopic("ROOM"))
	c.LocalEdit("recovered", "go")
	time.Sleep(60 * time.Millisecond)

	sent := tr.sentTo(codeSendTopic("ROOM"))
	if len(sent) != 1 {
		t.Fatalf("broadcasts = %d, want only the fresh snapshot", len(sent))
	}
	if msg := decodeFrame[CodeChangeMessage](t, sent[0]); msg.Code != "recovered" {
		t.Fatalf("broadcast = %+v", msg)
	}
}

func TestLeaveCancelsPendingBroadcast(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestCodeSync(tr, true, CodeSyncConfig{}, nil, nil)

	c.LocalEdit("half-typed", "go")
	c.Leave()
	time.Sleep(60 * time.Millisecond)

	if sent := tr.sentTo(codeSendTopic("ROOM")); len(sent) != 0 {
		t.Fatalf("broadcasts = %d after leave, want 0", len(sent))
	}
	if state := c.State(); state != SyncLeft {
		t.Fatalf("state = %v, want left", state)
	}

	// Stale handlers after leave are inert.
	theirs, _ := json.Marshal(CodeChangeMessage{UserID: "u-2", Code: "late"})
	c.handleCode(theirs)
	if code := c.Code(); code.Code == "late" {
		t.Fatal("remote edit applied after leave")
	}
}

func TestAutosaveForPersistedRoomsOnly(t *testing.T) {
	tr := newFakeTransport()
	saver := &fakeSaver{}
	c, meta := newTestCodeSync(tr, true, CodeSyncConfig{Persisted: true, Saver: saver}, nil, nil)
	meta.setAll(Metadata{Title: "fib"})

	c.LocalEdit("func main() {}", "go")
	time.Sleep(60 * time.Millisecond)

	saved := saver.saved()
	if len(saved) != 1 {
		t.Fatalf("saves = %d, want 1", len(saved))
	}
	if saved[0].id != "ROOM" || saved[0].code.Code != "func main() {}" || saved[0].meta.Title != "fib" {
		t.Fatalf("save = %+v", saved[0])
	}

	// A room with no stored snippet never saves.
	tr2 := newFakeTransport()
	saver2 := &fakeSaver{}
	c2, _ := newTestCodeSync(tr2, true, CodeSyncConfig{Persisted: false, Saver: saver2}, nil, nil)
	c2.LocalEdit("scratch", "go")
	time.Sleep(60 * time.Millisecond)

	if len(saver2.saved()) != 0 {
		t.Fatal("ad-hoc room autosaved")
	}
}
