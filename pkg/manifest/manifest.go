// pkg/manifest/manifest.go
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrInvalid indicates the manifest could not be fetched or decoded
var ErrInvalid = errors.New("invalid manifest")

// Entry is the metadata listed for one package.
// The store does not fix a schema, so only the common fields are decoded and
// the raw JSON is always kept.
type Entry struct {
	Name        string          `json:"-"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	Author      string          `json:"author"`
	URL         string          `json:"url"`
	Raw         json.RawMessage `json:"-"`
}

// Manifest maps package names to their metadata
type Manifest map[string]*Entry

// Parse decodes a manifest document. The top level must be a JSON object.
func Parse(r io.Reader) (Manifest, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: top level is not an object", ErrInvalid)
	}

	m := make(Manifest, len(raw))
	for name, value := range raw {
		entry := &Entry{Name: name, Raw: value}
		// Non-object metadata (strings, lists, true) is legal, keep it raw
		if trimmed := bytes.TrimSpace(value); len(trimmed) > 0 && trimmed[0] == '{' {
			if err := json.Unmarshal(trimmed, entry); err != nil {
				return nil, fmt.Errorf("%w: entry %q: %v", ErrInvalid, name, err)
			}
			entry.Name = name
			entry.Raw = value
		}
		m[name] = entry
	}

	return m, nil
}

// Lookup returns the entry for name
func (m Manifest) Lookup(name string) (*Entry, bool) {
	entry, ok := m[name]
	return entry, ok
}

// Names returns the sorted package names
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
