package chatkit

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultSearchLimit caps the result count of a user search.
	DefaultSearchLimit = 10
	// MaxSearchQueryLen is the longest query forwarded to the server;
	// anything beyond it is truncated client-side.
	MaxSearchQueryLen = 50
	// DefaultSearchDebounce is the idle window before a query is issued.
	DefaultSearchDebounce = 300 * time.Millisecond
	// DefaultMinQueryLen is the shortest query worth searching for.
	DefaultMinQueryLen = 2
)

func clampQuery(query string) string {
	query = strings.TrimSpace(query)
	if len(query) > MaxSearchQueryLen {
		cut := MaxSearchQueryLen
		// Back off to a rune boundary so the truncation cannot split a
		// multi-byte character.
		for cut > 0 && !utf8.RuneStart(query[cut]) {
			cut--
		}
		query = query[:cut]
	}
	return query
}

// SearcherConfig tunes a Searcher. Zero values take the defaults above.
type SearcherConfig struct {
	Debounce time.Duration
	Limit    int
	MinQuery int
	Logger   *log.Logger

	// OnResults receives the outcome of each completed search. A search
	// superseded by a newer query never reports. err is nil on success;
	// users is nil when the query was too short to run.
	OnResults func(query string, users []User, err error)
}

// Searcher performs debounced, cancellable user searches: keystrokes feed
// SetQuery, and only after the debounce window passes without another
// keystroke does a request go out. A newer query cancels the in-flight
// request of an older one, so results always belong to the latest query.
type Searcher struct {
	client *Client
	cfg    SearcherConfig

	mu sync.Mutex
	// gen increments on every keystroke; a firing timer or a completed
	// request whose generation is no longer current is discarded, so a
	// timer that expired just before the next keystroke cannot resurrect
	// the superseded query.
	gen      uint64
	timer    *time.Timer
	inflight context.CancelFunc
	closed   bool
}

// NewSearcher creates a searcher bound to a client. Close it when done.
func NewSearcher(client *Client, cfg SearcherConfig) *Searcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultSearchDebounce
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultSearchLimit
	}
	if cfg.MinQuery <= 0 {
		cfg.MinQuery = DefaultMinQueryLen
	}
	if cfg.Logger == nil {
		cfg.Logger = client.logger
	}
	return &Searcher{client: client, cfg: cfg}
}

// SetQuery records the latest input. The previous debounce timer is reset
// and any in-flight request is cancelled; a query shorter than MinQuery
// reports empty results immediately without touching the network.
func (s *Searcher) SetQuery(query string) {
	query = clampQuery(query)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}

	if len(query) < s.cfg.MinQuery {
		if s.cfg.OnResults != nil {
			go s.cfg.OnResults(query, nil, nil)
		}
		return
	}

	s.timer = time.AfterFunc(s.cfg.Debounce, func() {
		s.fire(query, gen)
	})
}

// Flush runs the pending query immediately instead of waiting out the
// debounce window. No-op when nothing is pending.
func (s *Searcher) Flush() {
	s.mu.Lock()
	t := s.timer
	s.mu.Unlock()
	if t != nil && t.Stop() {
		t.Reset(0)
	}
}

// Close cancels any pending or in-flight search.
func (s *Searcher) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
}

func (s *Searcher) fire(query string, gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.inflight != nil {
		s.inflight()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.inflight = cancel
	s.mu.Unlock()

	users, err := s.client.SearchUsers(ctx, query, s.cfg.Limit)

	s.mu.Lock()
	// A newer keystroke arrived while the request was in flight; its
	// result is stale.
	stale := s.closed || gen != s.gen || ctx.Err() != nil
	if !stale {
		s.inflight = nil
	}
	s.mu.Unlock()
	if stale {
		return
	}

	if err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Printf("chatkit: user search %q: %v", query, err)
	}
	if s.cfg.OnResults != nil {
		s.cfg.OnResults(query, users, err)
	}
}
