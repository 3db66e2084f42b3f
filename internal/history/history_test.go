package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestSnapshotLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	list, err := svc.List("p1", 10)
	if err != nil || len(list) != 0 {
		t.Fatalf("List() before any snapshot = %v, %v", list, err)
	}

	first, created, err := svc.Snapshot("p1", json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"one"}]}]}`), "")
	if err != nil || !created {
		t.Fatalf("Snapshot() = %+v, %v, %v", first, created, err)
	}
	if len(first.Hash) != 40 || first.ShortHash != first.Hash[:7] || first.Message != "Save document" {
		t.Fatalf("unexpected commit %+v", first)
	}

	// Same document with different formatting is not a change.
	same, created, err := svc.Snapshot("p1", json.RawMessage(`{ "content":[{"content":[{"text":"one","type":"text"}],"type":"paragraph"}], "type":"doc" }`), "")
	if err != nil || created || same.Hash != first.Hash {
		t.Fatalf("unchanged Snapshot() = %+v, %v, %v", same, created, err)
	}

	second, created, err := svc.Snapshot("p1", json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"two"}]}]}`), "Completion")
	if err != nil || !created {
		t.Fatalf("second Snapshot() = %v, %v", created, err)
	}

	list, err = svc.List("p1", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Hash != second.Hash || list[1].Hash != first.Hash {
		t.Fatalf("List() = %+v", list)
	}
	if limited, _ := svc.List("p1", 1); len(limited) != 1 {
		t.Fatalf("List(limit=1) returned %d items", len(limited))
	}

	commit, doc, err := svc.Get("p1", first.ShortHash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if commit.Hash != first.Hash || !strings.Contains(string(doc), `"text":"one"`) {
		t.Fatalf("Get() = %+v, %s", commit, doc)
	}
}

func TestGetUnknown(t *testing.T) {
	svc := New(t.TempDir())
	if _, _, err := svc.Get("nobody", "abcdef1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing repo, got %v", err)
	}
	if _, _, err := svc.Snapshot("p1", json.RawMessage(`{"type":"doc"}`), ""); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, _, err := svc.Get("p1", "0000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
}

func TestRejectsPathLikeProfileIDs(t *testing.T) {
	svc := New(t.TempDir())
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, _, err := svc.Snapshot(id, json.RawMessage(`{}`), ""); err == nil {
			t.Errorf("Snapshot(%q) should fail", id)
		}
	}
}

func TestConcurrentSnapshots(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := fmt.Sprintf(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"v%d"}]}]}`, i)
			if _, _, err := svc.Snapshot("p1", json.RawMessage(doc), ""); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Snapshot() error = %v", err)
	}
	list, err := svc.List("p1", 0)
	if err != nil || len(list) != 10 {
		t.Fatalf("List() = %d items, %v", len(list), err)
	}
}
