package personas

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_MapForm(t *testing.T) {
	data := []byte(`
g:
  persona: |
    You are G.
  summary: General assistant
pirate:
  persona: Arr.
  summary: Talks like a pirate
secret:
  persona: Hidden.
  is_private: true
`)
	entries, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Name != "g" || entries[1].Name != "pirate" || entries[2].Name != "secret" {
		t.Errorf("order not preserved: %+v", entries)
	}
	if !entries[2].IsPrivate {
		t.Error("is_private not decoded")
	}
}

func TestParse_LegacyPairList(t *testing.T) {
	data := []byte(`[["g", {"persona": "You are G.", "summary": "General"}], ["x", {"persona": "X", "is_private": true}]]`)
	entries, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "g" || entries[0].Persona.Persona != "You are G." {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{`[["only-name"]]`, `"scalar"`, `{g: [1, 2]}`} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestRegistry_ListHidesPrivate(t *testing.T) {
	r := NewStatic(
		Entry{Name: "g", Persona: Persona{Persona: "G"}},
		Entry{Name: "s", Persona: Persona{Persona: "S", IsPrivate: true}},
	)
	if got := r.List(false); len(got) != 1 || got[0].Name != "g" {
		t.Fatalf("public list = %+v", got)
	}
	if got := r.List(true); len(got) != 2 {
		t.Fatalf("full list = %+v", got)
	}
	if _, ok := r.Get("s"); !ok {
		t.Fatal("private persona must still be selectable")
	}
}

func TestRegistry_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	os.WriteFile(path, []byte("g: {persona: G}\n"), 0644)

	r := NewRegistry(path)
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(path, []byte("[[broken"), 0644)
	if err := r.Reload(); err == nil {
		t.Fatal("expected parse error")
	}
	if _, ok := r.Get("g"); !ok {
		t.Fatal("previous catalogue dropped")
	}
}

func TestRegistry_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	os.WriteFile(path, []byte("g: {persona: G}\n"), 0644)

	r := NewRegistry(path)
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	os.WriteFile(path, []byte("g: {persona: G}\nnew: {persona: N}\n"), 0644)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Get("new"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watch did not reload the catalogue")
}
