// Package singer writes the Singer message protocol: SCHEMA, RECORD and STATE
// messages as JSON lines, plus the catalog and state documents a tap reads.
package singer

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
)

var singerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lightcast_singer_messages_total",
	Help: "Singer messages written by type and stream",
}, []string{"type", "stream"})

// MessageType is the "type" field of a Singer message.
type MessageType string

const (
	MessageTypeSchema MessageType = "SCHEMA"
	MessageTypeRecord MessageType = "RECORD"
	MessageTypeState  MessageType = "STATE"
)

// SchemaMessage announces the shape of a stream's records.
type SchemaMessage struct {
	Type               MessageType `json:"type"`
	Stream             string      `json:"stream"`
	Schema             *Schema     `json:"schema"`
	KeyProperties      []string    `json:"key_properties"`
	BookmarkProperties []string    `json:"bookmark_properties,omitempty"`
}

// RecordMessage carries one record.
type RecordMessage struct {
	Type          MessageType     `json:"type"`
	Stream        string          `json:"stream"`
	Record        json.RawMessage `json:"record"`
	TimeExtracted time.Time       `json:"time_extracted"`
}

// StateMessage carries the tap's bookmarks.
type StateMessage struct {
	Type  MessageType `json:"type"`
	Value *State      `json:"value"`
}

// Writer emits messages as one JSON document per line. It is safe for
// concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewWriter creates a writer on w, normally os.Stdout.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{
		enc: enc,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WriteSchema writes a SCHEMA message.
func (w *Writer) WriteSchema(stream string, schema *Schema, keyProperties, bookmarkProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return w.write(stream, MessageTypeSchema, SchemaMessage{
		Type:               MessageTypeSchema,
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keyProperties,
		BookmarkProperties: bookmarkProperties,
	})
}

// WriteRecord writes a RECORD message stamped with the extraction time.
// record must be a JSON object.
func (w *Writer) WriteRecord(stream string, record []byte) error {
	if !gjson.ValidBytes(record) || !gjson.ParseBytes(record).IsObject() {
		return fmt.Errorf("record of stream %s is not a JSON object", stream)
	}
	return w.write(stream, MessageTypeRecord, RecordMessage{
		Type:          MessageTypeRecord,
		Stream:        stream,
		Record:        record,
		TimeExtracted: w.now(),
	})
}

// WriteState writes a STATE message.
func (w *Writer) WriteState(state *State) error {
	if state == nil {
		state = NewState()
	}
	return w.write("", MessageTypeState, StateMessage{
		Type:  MessageTypeState,
		Value: state,
	})
}

func (w *Writer) write(stream string, typ MessageType, msg any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write %s message: %w", typ, err)
	}
	singerMessagesTotal.WithLabelValues(string(typ), stream).Inc()
	return nil
}
