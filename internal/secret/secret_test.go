package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestSealAndOpen(t *testing.T) {
	box := NewBox("server-secret")
	sealed, err := box.Seal("sk-test-123")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "sk-test-123") {
		t.Fatalf("value was not sealed: %q", sealed)
	}
	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != "sk-test-123" {
		t.Fatalf("Open() = %q", opened)
	}
}

func TestOpenPassesThroughPlainValues(t *testing.T) {
	box := NewBox("server-secret")
	for _, value := range []string{"", "YOUR_API_KEY", "sk-plain"} {
		opened, err := box.Open(value)
		if err != nil || opened != value {
			t.Fatalf("Open(%q) = %q, %v", value, opened, err)
		}
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	sealed, err := NewBox("one").Seal("value")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := NewBox("two").Open(sealed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if _, err := NewBox("one").Open("sealed:!!!"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for garbage, got %v", err)
	}
}
