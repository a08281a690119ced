package conferencing

import (
	"context"
	"strings"
	"testing"
)

func TestDerivedProvisionerIsStable(t *testing.T) {
	t.Parallel()

	p, err := NewDerivedProvisioner("https://meet.example.com/rooms", "secret")
	if err != nil {
		t.Fatalf("NewDerivedProvisioner failed: %v", err)
	}

	first, err := p.AttachLink(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("AttachLink failed: %v", err)
	}
	second, _ := p.AttachLink(context.Background(), "m-1")
	other, _ := p.AttachLink(context.Background(), "m-2")

	if first != second {
		t.Fatalf("expected stable link, got %q and %q", first, second)
	}
	if first == other {
		t.Fatalf("expected distinct links per meeting")
	}
	if !strings.HasPrefix(first, "https://meet.example.com/rooms/") {
		t.Fatalf("unexpected link %q", first)
	}
}

func TestNewDerivedProvisionerValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewDerivedProvisioner("https://meet.example.com", ""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewDerivedProvisioner("not a url", "secret"); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
}
