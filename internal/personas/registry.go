// Package personas loads the named persona catalogue used to seed
// conversation system prompts.
package personas

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultName is the persona used when a conversation starts without one.
const DefaultName = "g"

// Persona is one catalogue entry.
type Persona struct {
	Persona   string `yaml:"persona" json:"persona"`
	Summary   string `yaml:"summary" json:"summary"`
	IsPrivate bool   `yaml:"is_private" json:"is_private"`
}

// Entry is a named persona in catalogue order.
type Entry struct {
	Name string
	Persona
}

// Registry holds the current catalogue. Safe for concurrent use.
type Registry struct {
	path string

	mu      sync.RWMutex
	entries []Entry
	byName  map[string]Persona
}

// NewRegistry returns a registry bound to path. Call Reload to populate it.
func NewRegistry(path string) *Registry {
	return &Registry{path: path, byName: map[string]Persona{}}
}

// NewStatic returns a registry with a fixed catalogue.
func NewStatic(entries ...Entry) *Registry {
	r := &Registry{}
	r.set(entries)
	return r
}

// Path returns the catalogue file path.
func (r *Registry) Path() string { return r.path }

// Reload re-reads the catalogue file. On failure the previous catalogue is kept.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read personas: %w", err)
	}
	entries, err := Parse(data)
	if err != nil {
		return err
	}
	r.set(entries)
	slog.Info("personas loaded", "path", r.path, "count", len(entries))
	return nil
}

func (r *Registry) set(entries []Entry) {
	byName := make(map[string]Persona, len(entries))
	for _, e := range entries {
		byName[e.Name] = e.Persona
	}
	r.mu.Lock()
	r.entries = entries
	r.byName = byName
	r.mu.Unlock()
}

// Get returns the persona called name.
func (r *Registry) Get(name string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// List returns the catalogue in file order. Private entries are included only
// when includePrivate is set.
func (r *Registry) List(includePrivate bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.IsPrivate && !includePrivate {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Parse decodes a catalogue in either form:
//
//	g: {persona: "...", summary: "..."}          # map form
//	[["g", {"persona": "...", "summary": "..."}]] # legacy pair list
//
// JSON input is accepted since it is valid YAML.
func Parse(data []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("parse personas: empty document")
	}
	doc := root.Content[0]

	var entries []Entry
	switch doc.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			var p Persona
			if err := doc.Content[i+1].Decode(&p); err != nil {
				return nil, fmt.Errorf("persona %q: %w", doc.Content[i].Value, err)
			}
			entries = append(entries, Entry{Name: doc.Content[i].Value, Persona: p})
		}
	case yaml.SequenceNode:
		for idx, item := range doc.Content {
			if item.Kind != yaml.SequenceNode || len(item.Content) != 2 {
				return nil, fmt.Errorf("persona #%d: expected [name, persona] pair", idx)
			}
			var p Persona
			if err := item.Content[1].Decode(&p); err != nil {
				return nil, fmt.Errorf("persona %q: %w", item.Content[0].Value, err)
			}
			entries = append(entries, Entry{Name: item.Content[0].Value, Persona: p})
		}
	default:
		return nil, fmt.Errorf("parse personas: unsupported document shape")
	}
	return entries, nil
}
