package tap

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/tap-lightcast/pkg/pagination"
	"github.com/Sternrassler/tap-lightcast/pkg/singer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for stream syncs.
var (
	tapRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightcast_tap_records_total",
		Help: "Records extracted by stream",
	}, []string{"stream"})

	tapRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightcast_tap_stream_requests_total",
		Help: "Stream requests (one per context) by stream",
	}, []string{"stream"})

	tapSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lightcast_tap_sync_duration_seconds",
		Help:    "Duration of a full sync",
		Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
	})
)

// Options configure a Runner.
type Options struct {
	// Writer receives the Singer messages (required).
	Writer *singer.Writer

	// Catalog selects streams; nil selects all.
	Catalog *singer.Catalog

	// State holds the bookmarks of the previous run; nil means none.
	State *singer.State

	// ValidateRecords checks every emitted record against its schema.
	ValidateRecords bool
}

// Summary reports what a sync emitted.
type Summary struct {
	Records  map[string]int
	Requests map[string]int
	Duration time.Duration
}

// Runner syncs a tree of streams depth-first.
type Runner struct {
	fetcher  Fetcher
	streams  []*Stream
	byName   map[string]*Stream
	children map[string][]*Stream
	opts     Options
	state    *singer.State
	logger   zerolog.Logger
}

// NewRunner checks the stream tree and creates a runner. Parents must be
// listed before their children.
func NewRunner(fetcher Fetcher, streams []*Stream, opts Options) (*Runner, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}

	r := &Runner{
		fetcher:  fetcher,
		streams:  streams,
		byName:   make(map[string]*Stream, len(streams)),
		children: make(map[string][]*Stream),
		opts:     opts,
		state:    singer.NewState(),
		logger:   log.With().Str("component", "tap").Logger(),
	}

	for _, s := range streams {
		switch {
		case s.Name == "":
			return nil, fmt.Errorf("stream without name")
		case s.Schema == nil:
			return nil, fmt.Errorf("stream %s: schema is required", s.Name)
		case s.Path == "":
			return nil, fmt.Errorf("stream %s: path is required", s.Name)
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stream %s", s.Name)
		}
		if s.Parent != "" {
			if _, ok := r.byName[s.Parent]; !ok {
				return nil, fmt.Errorf("stream %s: parent %s must be listed before it", s.Name, s.Parent)
			}
			r.children[s.Parent] = append(r.children[s.Parent], s)
		}
		r.byName[s.Name] = s
	}

	if opts.State != nil {
		for name, b := range opts.State.Bookmarks {
			r.state.SetBookmark(name, b.ReplicationKey, b.ReplicationKeyValue)
		}
	}

	return r, nil
}

// Discover returns the catalog of all streams, each selected.
func (r *Runner) Discover() *singer.Catalog {
	catalog := &singer.Catalog{Streams: make([]singer.CatalogEntry, 0, len(r.streams))}
	for _, s := range r.streams {
		catalog.Streams = append(catalog.Streams, singer.NewCatalogEntry(singer.EntryOptions{
			Stream:         s.Name,
			Schema:         s.Schema,
			KeyProperties:  s.PrimaryKeys,
			ReplicationKey: s.ReplicationKey,
			ParentStream:   s.Parent,
		}))
	}
	return catalog
}

// State returns the bookmarks as of the last sync.
func (r *Runner) State() *singer.State {
	return r.state
}

// Sync runs every root stream and its descendants, then writes STATE.
// Unselected streams still run when a descendant is selected.
func (r *Runner) Sync(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{
		Records:  make(map[string]int),
		Requests: make(map[string]int),
	}

	for _, s := range r.streams {
		if !r.selected(s) {
			continue
		}
		var bookmarks []string
		if s.ReplicationKey != "" {
			bookmarks = []string{s.ReplicationKey}
		}
		if err := r.opts.Writer.WriteSchema(s.Name, s.Schema, s.PrimaryKeys, bookmarks); err != nil {
			return summary, err
		}
	}

	r.logger.Info().Strs("streams", r.selectedNames()).Msg("Sync started")

	for _, s := range r.streams {
		if s.Parent != "" || !r.needed(s) {
			continue
		}
		if err := r.syncStream(ctx, s, Context{}, &summary); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}

	if err := r.opts.Writer.WriteState(r.state); err != nil {
		return summary, err
	}

	for _, name := range r.selectedNames() {
		r.logger.Info().
			Str("stream", name).
			Int("records", summary.Records[name]).
			Int("requests", summary.Requests[name]).
			Msg("Stream synced")
	}

	summary.Duration = time.Since(start)
	tapSyncDuration.Observe(summary.Duration.Seconds())
	r.logger.Info().
		Interface("records", summary.Records).
		Dur("duration", summary.Duration).
		Msg("Sync complete")

	return summary, nil
}

func (r *Runner) selected(s *Stream) bool {
	return r.opts.Catalog.IsSelected(s.Name)
}

// needed reports whether s or any descendant is selected.
func (r *Runner) needed(s *Stream) bool {
	if r.selected(s) {
		return true
	}
	for _, c := range r.children[s.Name] {
		if r.needed(c) {
			return true
		}
	}
	return false
}

func (r *Runner) selectedNames() []string {
	var names []string
	for _, s := range r.streams {
		if r.selected(s) {
			names = append(names, s.Name)
		}
	}
	return names
}

// syncStream requests s for one context and recurses into its children
// after each record.
func (r *Runner) syncStream(ctx context.Context, s *Stream, sctx Context, summary *Summary) error {
	path, err := s.RenderPath(sctx)
	if err != nil {
		return err
	}

	logger := r.logger.With().Str("stream", s.Name).Logger()
	logger.Debug().Str("path", path).Interface("context", sctx).Msg("Syncing stream")

	selected := r.selected(s)
	var lastReplicationValue string

	pager := pagination.NewPager(pagination.Config{
		MaxRecords: s.MaxRecords,
		MaxPages:   s.MaxPages,
	})
	fetch := func(ctx context.Context, token string) (pagination.Page, error) {
		query := url.Values{}
		if s.URLParams != nil {
			for k, v := range s.URLParams(sctx) {
				query[k] = v
			}
		}
		if token != "" && s.PageTokenParam != "" {
			query[s.PageTokenParam] = []string{token}
		}

		summary.Requests[s.Name]++
		tapRequestsTotal.WithLabelValues(s.Name).Inc()

		body, err := r.fetcher.GetJSON(ctx, path, query)
		if err != nil {
			return pagination.Page{}, fmt.Errorf("stream %s: %w", s.Name, err)
		}
		records, err := extractRecords(body, s.RecordsPath)
		if err != nil {
			return pagination.Page{}, fmt.Errorf("stream %s: %w", s.Name, err)
		}
		page := pagination.Page{Records: records}
		if s.NextPageTokenPath != "" {
			page.NextToken = gjson.GetBytes(body, s.NextPageTokenPath).String()
		}
		return page, nil
	}

	n, err := pager.Each(ctx, fetch, func(record []byte) error {
		if s.PostProcess != nil {
			processed, err := s.PostProcess(record, sctx)
			if err != nil {
				return fmt.Errorf("stream %s: post-process: %w", s.Name, err)
			}
			record = processed
		}

		if err := s.checkContext(record, sctx); err != nil {
			return err
		}

		if selected {
			if r.opts.ValidateRecords {
				if err := s.Schema.Validate(s.Name, record); err != nil {
					return err
				}
			}
			if err := r.opts.Writer.WriteRecord(s.Name, record); err != nil {
				return err
			}
			summary.Records[s.Name]++
			tapRecordsTotal.WithLabelValues(s.Name).Inc()
		}

		if s.ReplicationKey != "" {
			lastReplicationValue = gjson.GetBytes(record, s.ReplicationKey).String()
		}

		children := r.children[s.Name]
		if len(children) == 0 {
			return nil
		}
		child, err := s.childContext(record, sctx)
		if err != nil {
			return fmt.Errorf("stream %s: child context: %w", s.Name, err)
		}
		for _, c := range children {
			if !r.needed(c) {
				continue
			}
			if err := r.syncStream(ctx, c, child, summary); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n == 0 && s.Required {
		return fmt.Errorf("%w: stream %s at %s", ErrNoRecords, s.Name, path)
	}

	if selected && s.ReplicationKey != "" && lastReplicationValue != "" {
		r.updateBookmark(logger, s, lastReplicationValue)
	}
	return nil
}

func (r *Runner) updateBookmark(logger zerolog.Logger, s *Stream, value string) {
	if prev, ok := r.state.Bookmark(s.Name); ok {
		if prevValue, _ := prev.ReplicationKeyValue.(string); prevValue == value {
			logger.Info().
				Str("replication_key", s.ReplicationKey).
				Str("value", value).
				Msg("Replication key unchanged since previous run")
		}
	}
	r.state.SetBookmark(s.Name, s.ReplicationKey, value)
}
