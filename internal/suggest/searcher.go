// Package suggest runs debounced ticker searches for editable receipt fields.
//
// Each field is identified by a FieldKey. A new query for a key cancels that
// key's pending timer and in-flight request, and only the result of the most
// recent query for a key is delivered. Results for different keys never
// displace each other.
package suggest

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Field names an editable text field that supports ticker search.
type Field string

const (
	FieldRetailer  Field = "retailer"
	FieldItemName  Field = "name"
	FieldItemBrand Field = "brand"
)

// RetailerItem is the item index used for the retailer field.
const RetailerItem = -1

// FieldKey identifies one search-capable field of the receipt.
type FieldKey struct {
	Item  int   `json:"item"`
	Field Field `json:"field"`
}

// RetailerKey is the key of the retailer name field.
func RetailerKey() FieldKey {
	return FieldKey{Item: RetailerItem, Field: FieldRetailer}
}

// Backend performs the actual ticker lookup.
type Backend interface {
	SearchTicker(ctx context.Context, query string) ([]types.TickerSuggestion, error)
}

// Result is delivered once per completed, non-stale query.
type Result struct {
	Key         FieldKey
	Seq         uint64
	Query       string
	Suggestions []types.TickerSuggestion
	Err         error
}

// Options configures a Searcher.
type Options struct {
	Debounce  time.Duration
	MinLength int
	// Limiter throttles outbound searches; nil disables throttling.
	Limiter *rate.Limiter
}

type pendingSearch struct {
	seq    uint64
	timer  *time.Timer
	cancel context.CancelFunc
}

// Searcher schedules debounced searches and hands results to a callback.
type Searcher struct {
	backend Backend
	opts    Options
	deliver func(Result)
	log     *zap.SugaredLogger
	metrics *searchMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	seq      uint64
	inflight int
	// idle is closed whenever inflight is zero.
	idle     chan struct{}
	latest   map[FieldKey]uint64
	pending  map[FieldKey]*pendingSearch
	closed   bool
}

// NewSearcher creates a searcher. deliver is called from a background
// goroutine and must not block for long.
func NewSearcher(backend Backend, opts Options, deliver func(Result)) *Searcher {
	if opts.MinLength < 1 {
		opts.MinLength = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Searcher{
		backend: backend,
		opts:    opts,
		deliver: deliver,
		log:     logger.GetLogger().Named("ticker-search"),
		metrics: newSearchMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		idle:    idle,
		latest:  make(map[FieldKey]uint64),
		pending: make(map[FieldKey]*pendingSearch),
	}
}

// Query schedules a search for text on key, superseding any earlier query for
// the same key. It returns the query's sequence number and whether a search
// was scheduled; input shorter than the minimum length only cancels.
func (s *Searcher) Query(key FieldKey, text string) (uint64, bool) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}

	s.seq++
	seq := s.seq
	s.latest[key] = seq
	if utf8.RuneCountInString(text) < s.opts.MinLength {
		s.stopLocked(key)
		return seq, false
	}

	// Acquire before stopping the superseded search so waiters never see a
	// gap between the two.
	s.acquireLocked()
	s.stopLocked(key)

	ctx, cancel := context.WithCancel(s.ctx)
	p := &pendingSearch{seq: seq, cancel: cancel}
	p.timer = time.AfterFunc(s.opts.Debounce, func() {
		defer s.release()
		s.run(ctx, key, seq, text)
	})
	s.pending[key] = p
	return seq, true
}

// Cancel drops any pending or in-flight search for key.
func (s *Searcher) Cancel(key FieldKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.latest[key] = s.seq
	s.stopLocked(key)
}

// IsCurrent reports whether seq is the latest query issued for key.
func (s *Searcher) IsCurrent(key FieldKey, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.latest[key] == seq
}

// Wait blocks until no searches are pending or running, or ctx is done.
func (s *Searcher) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Searcher) acquireLocked() {
	if s.inflight == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight++
}

func (s *Searcher) releaseLocked() {
	s.inflight--
	if s.inflight == 0 {
		close(s.idle)
	}
}

func (s *Searcher) release() {
	s.mu.Lock()
	s.releaseLocked()
	s.mu.Unlock()
}

// Close cancels every pending and in-flight search. Later queries are ignored.
func (s *Searcher) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key := range s.pending {
		s.stopLocked(key)
	}
	s.cancel()
}

// stopLocked cancels the pending search for key. Caller holds s.mu.
func (s *Searcher) stopLocked(key FieldKey) {
	p, ok := s.pending[key]
	if !ok {
		return
	}
	delete(s.pending, key)
	p.cancel()
	if p.timer.Stop() {
		// The timer never fired, so its callback will not release it.
		s.releaseLocked()
		s.metrics.outcomes.WithLabelValues(outcomeCoalesced).Inc()
	}
}

func (s *Searcher) run(ctx context.Context, key FieldKey, seq uint64, text string) {
	if s.opts.Limiter != nil {
		if err := s.opts.Limiter.Wait(ctx); err != nil {
			s.metrics.outcomes.WithLabelValues(outcomeCancelled).Inc()
			return
		}
	}

	suggestions, err := s.backend.SearchTicker(ctx, text)
	if ctx.Err() != nil {
		s.metrics.outcomes.WithLabelValues(outcomeCancelled).Inc()
		return
	}

	s.mu.Lock()
	current := !s.closed && s.latest[key] == seq
	if p, ok := s.pending[key]; ok && p.seq == seq {
		delete(s.pending, key)
		p.cancel()
	}
	s.mu.Unlock()

	if !current {
		s.metrics.outcomes.WithLabelValues(outcomeStale).Inc()
		return
	}
	if err != nil {
		s.log.Warnw("Ticker search failed", "field", key.Field, "item", key.Item, "error", err)
		s.metrics.outcomes.WithLabelValues(outcomeError).Inc()
	} else {
		s.metrics.outcomes.WithLabelValues(outcomeDelivered).Inc()
	}
	s.deliver(Result{Key: key, Seq: seq, Query: text, Suggestions: suggestions, Err: err})
}
