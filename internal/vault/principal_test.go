package vault

import (
	"strings"
	"testing"
)

func TestNewPrincipalFormat(t *testing.T) {
	p, err := NewPrincipal()
	if err != nil {
		t.Fatalf("new principal: %v", err)
	}
	if p.IsNull() {
		t.Fatal("expected non-null principal")
	}
	if len(p) != 26 {
		t.Fatalf("expected 26-character principal, got %d", len(p))
	}
	for _, r := range string(p) {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Fatalf("unexpected character %q in principal", r)
		}
	}
}

func TestIsNull(t *testing.T) {
	if !Null.IsNull() {
		t.Fatal("expected null principal to be null")
	}
	if !Principal("   ").IsNull() {
		t.Fatal("expected whitespace principal to be null")
	}
	if Principal("owner-1").IsNull() {
		t.Fatal("expected non-empty principal to be non-null")
	}
}

func TestNewPrincipalUniqueness(t *testing.T) {
	seen := make(map[Principal]bool)
	for range 64 {
		p, err := NewPrincipal()
		if err != nil {
			t.Fatalf("new principal: %v", err)
		}
		if seen[p] {
			t.Fatalf("duplicate principal %q", p)
		}
		seen[p] = true
	}
}

func TestNewIDHasNoPadding(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if strings.Contains(id, "=") {
		t.Fatal("expected no padding")
	}
}
