package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SettingsStore holds one JSON settings document per plugin. Documents are
// seeded from manifest defaults and read or written by dot path, e.g.
// "editor.tabSize". All access copies values out; callers never share the
// underlying document.
type SettingsStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewSettingsStore creates an empty settings store.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{docs: make(map[string][]byte)}
}

// Init seeds the plugin's document from its schema defaults, replacing any
// existing document.
func (s *SettingsStore) Init(pluginID string, defaults map[string]any) error {
	doc := []byte("{}")
	var err error
	for key, value := range defaults {
		doc, err = sjson.SetBytes(doc, key, value)
		if err != nil {
			return fmt.Errorf("seed setting %q: %w", key, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[pluginID] = doc
	return nil
}

// Get reads one value by dot path. The second return reports whether the
// path exists.
func (s *SettingsStore) Get(pluginID, path string) (any, bool) {
	s.mu.RLock()
	doc, ok := s.docs[pluginID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	result := gjson.GetBytes(doc, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// Set writes one value by dot path, creating intermediate objects as needed.
func (s *SettingsStore) Set(pluginID, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[pluginID]
	if !ok {
		doc = []byte("{}")
	}

	updated, err := sjson.SetBytes(doc, path, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", path, err)
	}
	s.docs[pluginID] = updated
	return nil
}

// Snapshot returns a decoded copy of the plugin's document. Mutating the
// returned map does not affect the store.
func (s *SettingsStore) Snapshot(pluginID string) map[string]any {
	s.mu.RLock()
	doc, ok := s.docs[pluginID]
	s.mu.RUnlock()
	if !ok {
		return map[string]any{}
	}

	out := make(map[string]any)
	if err := json.Unmarshal(doc, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// Replace swaps the plugin's whole document for the given settings.
func (s *SettingsStore) Replace(pluginID string, settings map[string]any) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[pluginID] = doc
	return nil
}

// SetDocument installs a raw JSON document for the plugin, used to restore
// a snapshot taken with Document.
func (s *SettingsStore) SetDocument(pluginID string, doc []byte) {
	stored := make([]byte, len(doc))
	copy(stored, doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[pluginID] = stored
}

// Document returns the raw JSON document, or nil when the plugin has none.
func (s *SettingsStore) Document(pluginID string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[pluginID]
	if !ok {
		return nil
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out
}

// Remove drops the plugin's document, typically on uninstall.
func (s *SettingsStore) Remove(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, pluginID)
}
