// Package tap runs REST streams chained parent to child and emits their
// records as Singer messages.
package tap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"

	"github.com/Sternrassler/tap-lightcast/pkg/singer"
	"github.com/tidwall/gjson"
)

var (
	// ErrMissingContextKey is returned when a path placeholder has no value in the context.
	ErrMissingContextKey = errors.New("tap: missing context key")

	// ErrNoRecords is returned when a stream that must yield records yields none.
	ErrNoRecords = errors.New("tap: no records")

	// ErrContextMismatch is returned when a record's primary key differs
	// from the value its parent asked for.
	ErrContextMismatch = errors.New("tap: record does not match context")
)

// Fetcher performs GET requests and returns the body of a 2xx response.
type Fetcher interface {
	GetJSON(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}

// Context carries values from a parent record to its child stream.
type Context map[string]string

// Clone returns a copy of c.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Stream describes one REST endpoint and how its records are produced.
type Stream struct {
	// Name is the Singer stream name.
	Name string

	// Path is relative to the fetcher's base URL. {key} placeholders are
	// filled from the context, path-escaped.
	Path string

	// RecordsPath is the gjson path of the records in the response body.
	// An array result yields one record per element.
	RecordsPath string

	Schema         *singer.Schema
	PrimaryKeys    []string
	ReplicationKey string

	// Parent names the stream whose records seed this one; empty for a root.
	Parent string

	// MaxRecords caps the records of one request; 0 means no cap.
	MaxRecords int

	// MaxPages caps the pages of one request; 0 means no cap.
	MaxPages int

	// Required makes a request without records an error.
	Required bool

	// NextPageTokenPath is the gjson path of the next-page token, if the
	// endpoint paginates. The token is sent in PageTokenParam.
	NextPageTokenPath string
	PageTokenParam    string

	// URLParams returns the query of a request. Optional.
	URLParams func(ctx Context) url.Values

	// PostProcess transforms a record before it is checked and emitted. Optional.
	PostProcess func(record []byte, ctx Context) ([]byte, error)

	// ChildContext derives the context handed to child streams. Optional;
	// defaults to the parent context plus the primary keys of the record.
	ChildContext func(record []byte, ctx Context) (Context, error)
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// RenderPath fills the path placeholders from ctx.
func (s *Stream) RenderPath(ctx Context) (string, error) {
	var missing []string
	path := placeholder.ReplaceAllStringFunc(s.Path, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := ctx[key]
		if !ok || v == "" {
			missing = append(missing, key)
			return m
		}
		return url.PathEscape(v)
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: stream %s needs %v", ErrMissingContextKey, s.Name, missing)
	}
	return path, nil
}

// childContext applies ChildContext or the default.
func (s *Stream) childContext(record []byte, ctx Context) (Context, error) {
	if s.ChildContext != nil {
		return s.ChildContext(record, ctx)
	}
	child := ctx.Clone()
	for _, k := range s.PrimaryKeys {
		child[k] = gjson.GetBytes(record, k).String()
	}
	return child, nil
}

// checkContext verifies that the record's primary keys agree with ctx.
func (s *Stream) checkContext(record []byte, ctx Context) error {
	for _, k := range s.PrimaryKeys {
		want, ok := ctx[k]
		if !ok {
			continue
		}
		got := gjson.GetBytes(record, k)
		if !got.Exists() || got.String() != want {
			return fmt.Errorf("%w: stream %s %s=%q, requested %q", ErrContextMismatch, s.Name, k, got.String(), want)
		}
	}
	return nil
}

// extractRecords returns the records at RecordsPath.
func extractRecords(body []byte, path string) ([][]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() || result.Type == gjson.Null {
		return nil, nil
	}
	if !result.IsArray() {
		if !result.IsObject() {
			return nil, fmt.Errorf("value at %q is not an object", path)
		}
		return [][]byte{[]byte(result.Raw)}, nil
	}

	var records [][]byte
	var err error
	result.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			err = fmt.Errorf("element of %q is not an object", path)
			return false
		}
		records = append(records, []byte(v.Raw))
		return true
	})
	return records, err
}
