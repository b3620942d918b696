package singer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON Schema document describing one stream's records.
type Schema struct {
	raw      json.RawMessage
	compiled *gojsonschema.Schema
}

// ValidationError represents a record that does not conform to its schema.
type ValidationError struct {
	Stream string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("record of stream %s does not match schema: %s", e.Stream, strings.Join(msgs, "; "))
}

// NewSchema compiles a JSON Schema document.
func NewSchema(raw []byte) (*Schema, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("schema is not valid JSON")
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{
		raw:      append(json.RawMessage(nil), raw...),
		compiled: compiled,
	}, nil
}

// MustSchema is like NewSchema but panics on error. For package-level schemas.
func MustSchema(raw string) *Schema {
	s, err := NewSchema([]byte(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// MarshalJSON returns the schema document as given.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return s.raw, nil
}

// Raw returns the schema document.
func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// Properties returns the top-level property names in sorted order.
func (s *Schema) Properties() []string {
	var names []string
	gjson.GetBytes(s.raw, "properties").ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	sort.Strings(names)
	return names
}

// Validate checks record against the schema. stream only labels the error.
func (s *Schema) Validate(stream string, record []byte) error {
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(record))
	if err != nil {
		return fmt.Errorf("validate record of stream %s: %w", stream, err)
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Stream: stream,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
