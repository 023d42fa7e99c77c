package internal

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestMetadataApplyByKeyPresence(t *testing.T) {
	meta := Metadata{
		Title:       "fib",
		Description: "classic",
		Language:    "go",
		Tags:        []string{"math"},
	}

	// Absent keys leave fields alone; pointers to empty values clear them.
	meta.Apply(MetadataPatch{
		Title:       strPtr("fibonacci"),
		Description: strPtr(""),
	})

	want := Metadata{Title: "fibonacci", Description: "", Language: "go", Tags: []string{"math"}}
	if !reflect.DeepEqual(meta, want) {
		t.Fatalf("meta = %+v, want %+v", meta, want)
	}

	tags := []string{}
	meta.Apply(MetadataPatch{Tags: &tags})
	if len(meta.Tags) != 0 {
		t.Fatalf("tags = %v, want explicit empty list applied", meta.Tags)
	}
}

func TestMetadataPublishRefusesJoinee(t *testing.T) {
	tr := newFakeTransport()
	m := NewMetadataSync(tr, "ROOM", SessionContext{UserID: "me"}, func() bool { return false }, nil)

	err := m.Publish(MetadataPatch{Title: strPtr("stolen")})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if sent := tr.sentTo(metadataSendTopic("ROOM")); len(sent) != 0 {
		t.Fatalf("joinee patch still broadcast: %d frames", len(sent))
	}
	if m.Current().Title != "" {
		t.Fatal("joinee patch applied locally")
	}
}

func TestMetadataPublishSendsSparsePatch(t *testing.T) {
	tr := newFakeTransport()
	var seen []Metadata
	m := NewMetadataSync(tr, "ROOM", SessionContext{UserID: "me"}, func() bool { return true }, func(meta Metadata) {
		seen = append(seen, meta)
	})

	if err := m.Publish(MetadataPatch{Title: strPtr("fib")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sent := tr.sentTo(metadataSendTopic("ROOM"))
	if len(sent) != 1 {
		t.Fatalf("frames = %d, want 1 immediate broadcast", len(sent))
	}
	msg := decodeFrame[MetadataUpdateMessage](t, sent[0])
	if msg.Title == nil || *msg.Title != "fib" {
		t.Fatalf("title = %v, want fib", msg.Title)
	}
	if msg.Description != nil || msg.Language != nil || msg.Tags != nil {
		t.Fatalf("untouched fields present on the wire: %+v", msg)
	}
	if m.Current().Title != "fib" {
		t.Fatal("local view not updated")
	}
	// Outbound patches apply locally without an onChange echo.
	if len(seen) != 0 {
		t.Fatalf("onChange fired %d times for a local patch", len(seen))
	}
}

func TestMetadataHandleRemoteMerges(t *testing.T) {
	tr := newFakeTransport()
	var seen []Metadata
	m := NewMetadataSync(tr, "ROOM", SessionContext{UserID: "me"}, func() bool { return false }, func(meta Metadata) {
		seen = append(seen, meta)
	})
	m.setAll(Metadata{Title: "fib", Language: "go"})
	seen = nil

	raw, _ := json.Marshal(MetadataUpdateMessage{UserID: "owner", Description: strPtr("classic")})
	m.handleRemote(raw)

	current := m.Current()
	if current.Title != "fib" || current.Description != "classic" || current.Language != "go" {
		t.Fatalf("merged view = %+v", current)
	}
	if len(seen) != 1 {
		t.Fatalf("onChange fired %d times, want 1", len(seen))
	}
}

func TestMetadataHandleRemoteSkipsSelf(t *testing.T) {
	tr := newFakeTransport()
	var changes int
	m := NewMetadataSync(tr, "ROOM", SessionContext{UserID: "me"}, func() bool { return true }, func(Metadata) {
		changes++
	})

	raw, _ := json.Marshal(MetadataUpdateMessage{UserID: "me", Title: strPtr("echo")})
	m.handleRemote(raw)

	if m.Current().Title != "" {
		t.Fatal("own echo applied")
	}
	if changes != 0 {
		t.Fatalf("onChange fired %d times for own echo", changes)
	}
}
