package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrRepeatedToken is returned when the server hands out a token twice.
var ErrRepeatedToken = errors.New("pagination: repeated next-page token")

// Config holds pager configuration
type Config struct {
	// MaxRecords caps the records handed out; 0 means no cap
	MaxRecords int
	// MaxPages caps the pages fetched; 0 means no cap
	MaxPages int
}

// Page is one fetched page
type Page struct {
	// Records holds the raw JSON of each record on the page
	Records [][]byte
	// NextToken is empty on the last page
	NextToken string
}

// FetchFunc fetches the page for token; the first call receives "".
type FetchFunc func(ctx context.Context, token string) (Page, error)

// Pager walks pages sequentially.
type Pager struct {
	config Config
}

// NewPager creates a new pager. Negative limits are treated as no cap.
func NewPager(config Config) *Pager {
	if config.MaxRecords < 0 {
		config.MaxRecords = 0
	}
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}
	return &Pager{config: config}
}

// Each hands every record to fn in page order and returns how many were
// handed out. An error from fetch or fn stops the walk.
func (p *Pager) Each(ctx context.Context, fetch FetchFunc, fn func(record []byte) error) (int, error) {
	start := time.Now()
	seen := make(map[string]struct{})
	token := ""
	emitted := 0
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		page, err := fetch(ctx, token)
		if err != nil {
			if pages == 0 {
				return emitted, fmt.Errorf("fetch first page: %w", err)
			}
			return emitted, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		pages++

		for i, record := range page.Records {
			if p.limitReached(emitted) {
				log.Debug().
					Int("max_records", p.config.MaxRecords).
					Int("dropped", len(page.Records)-i).
					Msg("Record limit reached - dropping surplus records")
				break
			}
			if err := fn(record); err != nil {
				return emitted, err
			}
			emitted++
		}

		if page.NextToken == "" || p.limitReached(emitted) {
			break
		}
		if p.config.MaxPages > 0 && pages >= p.config.MaxPages {
			log.Warn().
				Int("max_pages", p.config.MaxPages).
				Msg("Page limit reached - stopping pagination")
			break
		}
		if _, dup := seen[page.NextToken]; dup {
			return emitted, fmt.Errorf("%w: %q", ErrRepeatedToken, page.NextToken)
		}
		seen[page.NextToken] = struct{}{}
		token = page.NextToken
	}

	log.Debug().
		Int("pages", pages).
		Int("records", emitted).
		Dur("duration", time.Since(start)).
		Msg("Pagination complete")

	return emitted, nil
}

func (p *Pager) limitReached(emitted int) bool {
	return p.config.MaxRecords > 0 && emitted >= p.config.MaxRecords
}
