package singer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Bookmark records how far a stream has been replicated.
type Bookmark struct {
	ReplicationKey      string `json:"replication_key,omitempty"`
	ReplicationKeyValue any    `json:"replication_key_value,omitempty"`
}

// State is the tap state document: {"bookmarks": {stream: Bookmark}}.
type State struct {
	mu        sync.RWMutex
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Bookmarks: make(map[string]Bookmark)}
}

// ReadState decodes a state document. Empty input yields an empty state.
func ReadState(r io.Reader) (*State, error) {
	state := NewState()
	if err := json.NewDecoder(r).Decode(state); err != nil {
		if err == io.EOF {
			return NewState(), nil
		}
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if state.Bookmarks == nil {
		state.Bookmarks = make(map[string]Bookmark)
	}
	return state, nil
}

// LoadState reads a state file. An empty path yields an empty state.
func LoadState(path string) (*State, error) {
	if path == "" {
		return NewState(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()
	return ReadState(f)
}

// Bookmark returns the bookmark of stream.
func (s *State) Bookmark(stream string) (Bookmark, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.Bookmarks[stream]
	return b, ok
}

// SetBookmark sets the replication key value of stream.
func (s *State) SetBookmark(stream, replicationKey string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Bookmarks == nil {
		s.Bookmarks = make(map[string]Bookmark)
	}
	s.Bookmarks[stream] = Bookmark{
		ReplicationKey:      replicationKey,
		ReplicationKeyValue: value,
	}
}

// MarshalJSON encodes the state under its read lock.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bookmarks := s.Bookmarks
	if bookmarks == nil {
		bookmarks = map[string]Bookmark{}
	}
	return json.Marshal(struct {
		Bookmarks map[string]Bookmark `json:"bookmarks"`
	}{bookmarks})
}
