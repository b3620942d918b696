package singer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Replication methods.
const (
	ReplicationFullTable   = "FULL_TABLE"
	ReplicationIncremental = "INCREMENTAL"
)

// Inclusion values of property metadata.
const (
	InclusionAutomatic = "automatic"
	InclusionAvailable = "available"
)

// Catalog lists the streams a tap offers and which of them are selected.
type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

// CatalogEntry describes one stream.
type CatalogEntry struct {
	TapStreamID       string          `json:"tap_stream_id"`
	Stream            string          `json:"stream"`
	Schema            json.RawMessage `json:"schema"`
	KeyProperties     []string        `json:"key_properties"`
	ReplicationKey    string          `json:"replication_key,omitempty"`
	ReplicationMethod string          `json:"replication_method,omitempty"`
	Metadata          []Metadata      `json:"metadata"`
}

// Metadata attaches settings to a breadcrumb: [] for the stream itself,
// ["properties", name] for a property.
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// EntryOptions describes a stream for discovery.
type EntryOptions struct {
	Stream         string
	Schema         *Schema
	KeyProperties  []string
	ReplicationKey string
	ParentStream   string
}

// NewCatalogEntry builds a discovered, selected-by-default catalog entry.
func NewCatalogEntry(opts EntryOptions) CatalogEntry {
	method := ReplicationFullTable
	if opts.ReplicationKey != "" {
		method = ReplicationIncremental
	}
	keys := opts.KeyProperties
	if keys == nil {
		keys = []string{}
	}

	streamMeta := map[string]any{
		"selected":                  true,
		"selected-by-default":       true,
		"inclusion":                 InclusionAvailable,
		"table-key-properties":      keys,
		"forced-replication-method": method,
	}
	if opts.ReplicationKey != "" {
		streamMeta["valid-replication-keys"] = []string{opts.ReplicationKey}
	}
	if opts.ParentStream != "" {
		streamMeta["parent-tap-stream-id"] = opts.ParentStream
	}

	metadata := []Metadata{{Breadcrumb: []string{}, Metadata: streamMeta}}
	automatic := make(map[string]bool, len(keys)+1)
	for _, k := range keys {
		automatic[k] = true
	}
	if opts.ReplicationKey != "" {
		automatic[opts.ReplicationKey] = true
	}
	for _, prop := range opts.Schema.Properties() {
		inclusion := InclusionAvailable
		if automatic[prop] {
			inclusion = InclusionAutomatic
		}
		metadata = append(metadata, Metadata{
			Breadcrumb: []string{"properties", prop},
			Metadata: map[string]any{
				"inclusion":           inclusion,
				"selected-by-default": true,
			},
		})
	}

	return CatalogEntry{
		TapStreamID:       opts.Stream,
		Stream:            opts.Stream,
		Schema:            opts.Schema.Raw(),
		KeyProperties:     keys,
		ReplicationKey:    opts.ReplicationKey,
		ReplicationMethod: method,
		Metadata:          metadata,
	}
}

// ReadCatalog decodes a catalog document.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalog reads a catalog file. An empty path yields a nil catalog,
// under which every stream is selected.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()
	return ReadCatalog(f)
}

// Entry returns the entry of stream.
func (c *Catalog) Entry(stream string) (CatalogEntry, bool) {
	if c == nil {
		return CatalogEntry{}, false
	}
	for _, e := range c.Streams {
		if e.TapStreamID == stream {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// IsSelected reports whether stream should emit records. A nil catalog
// selects everything; a stream missing from a catalog is not selected.
func (c *Catalog) IsSelected(stream string) bool {
	if c == nil {
		return true
	}
	entry, ok := c.Entry(stream)
	if !ok {
		return false
	}
	return entry.selected()
}

func (e CatalogEntry) selected() bool {
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 0 {
			continue
		}
		if v, ok := m.Metadata["selected"].(bool); ok {
			return v
		}
		if m.Metadata["inclusion"] == InclusionAutomatic {
			return true
		}
		if v, ok := m.Metadata["selected-by-default"].(bool); ok {
			return v
		}
	}
	return false
}
