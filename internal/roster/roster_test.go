package roster

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
members:
  - name: Adams
    party: Democrat
    state: MA
  - name: Baker
    party: Republican
    state: TX
`

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("failed to write roster: %v", err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 members, got %d", r.Len())
	}
	m, ok := r.Member(1)
	if !ok || m.Name != "Baker" || m.State != "TX" {
		t.Errorf("unexpected member 1: %+v", m)
	}
}

func TestMemberOutOfRange(t *testing.T) {
	r, _ := parse([]byte(sample))
	if _, ok := r.Member(5); ok {
		t.Error("expected no member at index 5")
	}
	var nilRoster *Roster
	if _, ok := nilRoster.Member(0); ok {
		t.Error("expected nil roster to have no members")
	}
}

func TestLabel(t *testing.T) {
	r, _ := parse([]byte(sample))
	if got := r.Label(0); got != "Adams[D:MA]" {
		t.Errorf("expected Adams[D:MA], got %q", got)
	}
	if got := r.Label(9); got != "9" {
		t.Errorf("expected bare index, got %q", got)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := parse([]byte("members: [")); err == nil {
		t.Error("expected parse error")
	}
}
