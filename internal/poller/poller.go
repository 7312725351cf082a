// Package poller turns the stateless getUpdates long-poll endpoint into an
// ordered, deduplicated sequence of updates.
//
// A Poller owns the offset and the buffer of fetched-but-undelivered updates.
// It issues a new fetch only when the buffer is drained, keeps at most one
// fetch in flight, and stops for good after the first failed fetch. A new
// Poller (starting again at offset 0) is the only way to resume.
package poller

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/commander"
)

// DefaultTimeout is the long-poll timeout in seconds.
const DefaultTimeout = 120

// ErrFailed is returned by Next once the sequence has terminated.
var ErrFailed = errors.New("poller: sequence already failed")

// State of the poller state machine.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FetchError is the terminal error of a sequence: the fetch at Offset failed.
type FetchError struct {
	Offset int64
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("poller: fetch updates from offset %d: %v", e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Poller produces updates from a commander.Source.
type Poller struct {
	source  commander.Source
	timeout int
	logger  *zap.Logger

	// mu is held for the whole of Next, fetch included.
	mu      sync.Mutex
	buffer  []commander.Update
	failure error

	state  atomic.Int32
	offset atomic.Int64
}

// Option configures a Poller.
type Option func(*Poller)

// WithTimeout overrides the long-poll timeout (seconds).
func WithTimeout(seconds int) Option {
	return func(p *Poller) {
		if seconds >= 0 {
			p.timeout = seconds
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Poller at offset 0.
func New(source commander.Source, opts ...Option) *Poller {
	p := &Poller{
		source:  source,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Offset is the lowest update id not yet delivered.
func (p *Poller) Offset() int64 { return p.offset.Load() }

// State reports the current state.
func (p *Poller) State() State { return State(p.state.Load()) }

// Next returns the next update, fetching a new batch when the buffer is
// empty. It blocks while a fetch is pending. Cancelling ctx abandons the
// in-flight fetch and returns ctx.Err() without failing the poller.
func (p *Poller) Next(ctx context.Context) (commander.Update, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.State() == StateFailed {
			return commander.Update{}, fmt.Errorf("%w: %w", ErrFailed, p.failure)
		}
		if u, ok := p.pop(); ok {
			return u, nil
		}
		if err := p.fetch(ctx); err != nil {
			return commander.Update{}, err
		}
	}
}

// All returns the remaining updates as a lazy sequence. A terminal fetch
// error is yielded once as the last element; cancellation ends the
// sequence silently.
func (p *Poller) All(ctx context.Context) iter.Seq2[commander.Update, error] {
	return func(yield func(commander.Update, error) bool) {
		for {
			u, err := p.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					yield(commander.Update{}, err)
				}
				return
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}

// pop drains the buffer front to back, dropping anything below the offset.
func (p *Poller) pop() (commander.Update, bool) {
	for len(p.buffer) > 0 {
		u := p.buffer[0]
		p.buffer[0] = commander.Update{}
		p.buffer = p.buffer[1:]

		offset := p.offset.Load()
		if u.ID < offset {
			p.logger.Debug("dropping already delivered update",
				zap.Int64("update_id", u.ID),
				zap.Int64("offset", offset),
			)
			continue
		}
		p.offset.Store(u.ID + 1)
		return u, true
	}
	p.buffer = nil
	return commander.Update{}, false
}

func (p *Poller) fetch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	offset := p.offset.Load()
	p.state.Store(int32(StateFetching))
	p.logger.Debug("fetching updates", zap.Int64("offset", offset), zap.Int("timeout", p.timeout))

	batch, err := p.source.GetUpdates(ctx, offset, p.timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.state.Store(int32(StateIdle))
			return ctxErr
		}
		p.failure = &FetchError{Offset: offset, Err: err}
		p.state.Store(int32(StateFailed))
		p.logger.Warn("update fetch failed; sequence terminated", zap.Int64("offset", offset), zap.Error(err))
		return p.failure
	}

	p.buffer = batch
	p.state.Store(int32(StateIdle))
	if len(batch) > 0 {
		p.logger.Debug("fetched updates",
			zap.Int("count", len(batch)),
			zap.Int64("first_id", batch[0].ID),
			zap.Int64("last_id", batch[len(batch)-1].ID),
		)
	}
	return nil
}
