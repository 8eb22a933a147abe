// Package batch decrypts whole calendars page by page.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"

	"github.com/cyp0633/libcalseal/calcrypto"
	"github.com/cyp0633/libcalseal/storage"
)

// Config holds configuration for the batch pipeline
type Config struct {
	// PageSize is the number of events fetched per page
	PageSize int
	// Delay is the pause between two page fetches
	Delay time.Duration
	// Logger receives progress and per-event failures
	Logger *slog.Logger
	// Metrics is optional
	Metrics *Metrics
}

// DefaultConfig keeps the pipeline under the server's rate limit
var DefaultConfig = Config{
	PageSize: 10,
	Delay:    time.Second,
}

// EventResult is one decrypted event
type EventResult struct {
	EventID string
	*calcrypto.ReadResult
}

// EventError records an event that could not be decrypted
type EventError struct {
	EventID string
	Err     error
}

func (e EventError) Error() string {
	return fmt.Sprintf("event %s: %v", e.EventID, e.Err)
}

func (e EventError) Unwrap() error {
	return e.Err
}

// Result is the outcome of DecryptCalendar. A cancelled run carries no
// events.
type Result struct {
	Events    []EventResult
	Errors    []EventError
	Pages     int
	Cancelled bool
}

// Pipeline fetches encrypted events from a source and decrypts them
type Pipeline struct {
	source storage.EventSource
	keys   storage.KeyStore
	codec  *calcrypto.Codec
	config Config
	logger *slog.Logger
}

// NewPipeline creates a pipeline. Zero fields in config fall back to
// DefaultConfig, except Delay which may be zero.
func NewPipeline(source storage.EventSource, keys storage.KeyStore, codec *calcrypto.Codec, config Config) *Pipeline {
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig.PageSize
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics(nil)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		source: source,
		keys:   keys,
		codec:  codec,
		config: config,
		logger: logger,
	}
}

// DecryptCalendar decrypts every event of a calendar. Pages are fetched
// sequentially with Delay in between; the events of one page are decrypted
// concurrently. A failing event is recorded in Result.Errors and does not
// stop the run. Cancellation is checked before every page fetch and during
// the delay; a cancelled run returns a Result with Cancelled set and nothing
// else.
func (p *Pipeline) DecryptCalendar(ctx context.Context, calendarID string) (*Result, error) {
	calendarKey, err := p.keys.CalendarKey(ctx, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar key: %w", err)
	}

	verifiers := &keyCache{keys: p.keys, entries: make(map[string]*gopenpgp.KeyRing)}
	result := &Result{}
	beginID := ""
	for {
		if ctx.Err() != nil {
			return p.cancelled(calendarID, result), nil
		}
		page, err := p.source.ListEvents(ctx, calendarID, beginID, p.config.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelled(calendarID, result), nil
			}
			return nil, fmt.Errorf("failed to fetch events after %q: %w", beginID, err)
		}
		result.Pages++
		p.config.Metrics.Pages.Inc()

		events, errs := p.decryptPage(ctx, page, calendarKey, verifiers)
		result.Events = append(result.Events, events...)
		result.Errors = append(result.Errors, errs...)
		p.logger.Debug("decrypted event page",
			"calendar", calendarID,
			"page", result.Pages,
			"events", len(events),
			"failures", len(errs))

		if len(page) < p.config.PageSize {
			break
		}
		beginID = page[len(page)-1].ID

		if p.config.Delay > 0 {
			timer := time.NewTimer(p.config.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return p.cancelled(calendarID, result), nil
			case <-timer.C:
			}
		}
	}

	p.logger.Info("calendar decrypted",
		"calendar", calendarID,
		"pages", result.Pages,
		"events", len(result.Events),
		"failures", len(result.Errors))
	return result, nil
}

func (p *Pipeline) cancelled(calendarID string, partial *Result) *Result {
	p.logger.Info("calendar decryption cancelled",
		"calendar", calendarID,
		"pages", partial.Pages)
	return &Result{Cancelled: true}
}

func (p *Pipeline) decryptPage(ctx context.Context, page []storage.EncryptedEvent, calendarKey *gopenpgp.KeyRing, verifiers *keyCache) ([]EventResult, []EventError) {
	results := make([]*EventResult, len(page))
	errs := make([]error, len(page))

	var wg sync.WaitGroup
	for i, ev := range page {
		wg.Add(1)
		go func() {
			defer wg.Done()
			authors := payloadAuthors(ev)
			read, err := p.codec.ReadPayload(ctx, ev.Payload, calendarKey, verifiers.lookup(ctx, authors, p.logger))
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = &EventResult{EventID: ev.ID, ReadResult: read}
		}()
	}
	wg.Wait()

	var (
		events   []EventResult
		failures []EventError
	)
	for i, ev := range page {
		if errs[i] != nil {
			p.config.Metrics.Failed.Inc()
			p.logger.Warn("failed to decrypt event",
				"event", ev.ID,
				"error", errs[i])
			failures = append(failures, EventError{EventID: ev.ID, Err: errs[i]})
			continue
		}
		p.config.Metrics.observe(results[i].Verification)
		events = append(events, *results[i])
	}
	return events, failures
}

func payloadAuthors(ev storage.EncryptedEvent) []string {
	seen := make(map[string]bool)
	var authors []string
	add := func(author string) {
		if author != "" && !seen[author] {
			seen[author] = true
			authors = append(authors, author)
		}
	}
	add(ev.Author)
	for _, cards := range [][]calcrypto.WireCard{ev.Payload.SharedEventContent, ev.Payload.CalendarEventContent} {
		for _, c := range cards {
			add(c.Author)
		}
	}
	for _, c := range []*calcrypto.WireCard{ev.Payload.PersonalEventContent, ev.Payload.AttendeesEventContent} {
		if c != nil {
			add(c.Author)
		}
	}
	return authors
}

// keyCache memoizes address key lookups for one run. A missing key is
// cached as nil so cards by that author read as not verified.
type keyCache struct {
	keys    storage.KeyStore
	mu      sync.Mutex
	entries map[string]*gopenpgp.KeyRing
}

func (c *keyCache) lookup(ctx context.Context, authors []string, logger *slog.Logger) map[string]*gopenpgp.KeyRing {
	out := make(map[string]*gopenpgp.KeyRing, len(authors))
	for _, author := range authors {
		c.mu.Lock()
		kr, ok := c.entries[author]
		c.mu.Unlock()
		if !ok {
			var err error
			kr, err = c.keys.AddressKeys(ctx, author)
			if err != nil {
				if !storage.IsNotFound(err) {
					logger.Warn("failed to get address keys",
						"author", author,
						"error", err)
				}
				kr = nil
			}
			c.mu.Lock()
			c.entries[author] = kr
			c.mu.Unlock()
		}
		if kr != nil {
			out[author] = kr
		}
	}
	return out
}
