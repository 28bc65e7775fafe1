package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bookery/bookery-service/internal/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDebounce   = 600 * time.Millisecond
	DefaultMinChars   = 2
	DefaultMaxVisible = 6
)

type State uint8

const (
	Idle State = iota
	Debouncing
	InFlight
	Settled
)

type BookSource interface {
	SearchBooks(ctx context.Context, query string) ([]model.BookSummary, error)
}

type UserSource interface {
	SearchUsers(ctx context.Context, query string) ([]model.UserSummary, error)
}

// Update is one published result state. Books and Users are already trimmed
// to the visible cap; Err marks a non-fatal transport failure.
type Update struct {
	Query     string
	Books     []model.BookSummary
	Users     []model.UserSummary
	Err       error
	FromCache bool
}

type Option func(*Coordinator)

func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.debounce = d }
}

func WithMinChars(n int) Option {
	return func(c *Coordinator) { c.minChars = n }
}

func WithMaxVisible(n int) Option {
	return func(c *Coordinator) { c.maxVisible = n }
}

// Coordinator is a session-scoped search-as-you-type engine over two
// read-only sources. Keystrokes restart a debounce timer; an elapsed timer
// consults a per-session result cache and only on miss issues both source
// queries in parallel under one cancellable context. A monotonically growing
// generation token guards every completion: work finishing for a superseded
// generation is discarded silently, so a late response for an old query can
// never clobber fresher results.
type Coordinator struct {
	log        *zap.Logger
	books      BookSource
	users      UserSource
	debounce   time.Duration
	minChars   int
	maxVisible int
	publish    func(Update)

	mu        sync.Mutex
	state     State
	gen       uint64
	lastInput string
	timer     *time.Timer
	cache     map[string]model.SearchResultSet
	inFlight  string
	cancel    context.CancelFunc
	closed    bool
}

// NewCoordinator builds a coordinator publishing updates through onUpdate.
// onUpdate runs on the coordinator's internal goroutines and must not call
// back into the coordinator.
func NewCoordinator(books BookSource, users UserSource, onUpdate func(Update), log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:        log.Named("search"),
		books:      books,
		users:      users,
		debounce:   DefaultDebounce,
		minChars:   DefaultMinChars,
		maxVisible: DefaultMaxVisible,
		publish:    onUpdate,
		cache:      make(map[string]model.SearchResultSet),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Input feeds one keystroke's worth of query text into the state machine.
func (c *Coordinator) Input(query string) {
	norm := strings.ToLower(strings.TrimSpace(query))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || norm == c.lastInput {
		return
	}
	c.lastInput = norm
	c.gen++

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	if len(norm) < c.minChars {
		// too short: reset and clear whatever is shown, no request
		c.cancelInFlightLocked()
		c.state = Idle
		c.publish(Update{Query: norm, Books: []model.BookSummary{}, Users: []model.UserSummary{}})
		return
	}

	c.state = Debouncing
	gen := c.gen
	c.timer = time.AfterFunc(c.debounce, func() {
		c.fire(norm, gen)
	})
}

// State reports the current phase of the session.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels any outstanding work; further input is ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancelInFlightLocked()
}

// fire runs when the debounce window elapsed without further input.
func (c *Coordinator) fire(query string, gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}

	if rs, ok := c.cache[query]; ok {
		c.state = Settled
		c.publish(Update{
			Query:     query,
			Books:     trim(rs.Books, c.maxVisible),
			Users:     trim(rs.Users, c.maxVisible),
			FromCache: true,
		})
		c.mu.Unlock()
		return
	}

	// supersede: an in-flight request for a different query is cancelled,
	// never awaited
	if c.inFlight != query {
		c.cancelInFlightLocked()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.inFlight = query
	c.cancel = cancel
	c.state = InFlight
	c.mu.Unlock()

	go c.run(ctx, query, gen)
}

func (c *Coordinator) run(ctx context.Context, query string, gen uint64) {
	var (
		books []model.BookSummary
		users []model.UserSummary
	)
	gg, ctx := errgroup.WithContext(ctx)
	gg.Go(func() error {
		var err error
		books, err = c.books.SearchBooks(ctx, query)
		return err
	})
	gg.Go(func() error {
		var err error
		users, err = c.users.SearchUsers(ctx, query)
		return err
	})
	err := gg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		// superseded while in flight; discard silently
		return
	}
	c.state = Settled
	c.inFlight = ""
	c.cancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// failures are surfaced once and never cached
		c.log.Debug("search failed", zap.String("query", query), zap.Error(err))
		c.publish(Update{Query: query, Err: err})
		return
	}

	if books == nil {
		books = []model.BookSummary{}
	}
	if users == nil {
		users = []model.UserSummary{}
	}
	c.cache[query] = model.SearchResultSet{Books: books, Users: users}
	c.publish(Update{
		Query: query,
		Books: trim(books, c.maxVisible),
		Users: trim(users, c.maxVisible),
	})
}

func (c *Coordinator) cancelInFlightLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.inFlight = ""
	}
}

func trim[T any](items []T, max int) []T {
	if len(items) > max {
		return items[:max]
	}
	return items
}
