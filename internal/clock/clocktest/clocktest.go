// Package clocktest provides deterministic fakes for the clock package.
// Tickers never fire on their own; tests drive them with Fire.
package clocktest

import (
	"context"
	"sync"
	"time"

	"studybell/internal/clock"
)

// Clock is a fake clock.Clock with a settable Now and manually fired
// tickers.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker
}

var _ clock.Clock = (*Clock)(nil)

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) NewTicker(d time.Duration) clock.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Ticker{
		Period:  d,
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers returns every ticker created so far, oldest first.
func (c *Clock) Tickers() []*Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Ticker, len(c.tickers))
	copy(out, c.tickers)
	return out
}

// Last returns the most recently created ticker, or nil.
func (c *Clock) Last() *Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

// Ticker is a fake clock.Ticker.
type Ticker struct {
	Period time.Duration

	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *Ticker) C() <-chan time.Time { return t.c }

func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stopped) })
}

// Stopped reports whether Stop has been called.
func (t *Ticker) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// Fire delivers one tick and blocks until a receiver takes it. It
// returns false if the ticker is stopped first.
func (t *Ticker) Fire(now time.Time) bool {
	if t.Stopped() {
		return false
	}
	select {
	case t.c <- now:
		return true
	case <-t.stopped:
		return false
	}
}

// Source is a fake clock.Source fed by Send.
type Source struct {
	in       chan time.Time
	released chan struct{}
	once     sync.Once
}

var _ clock.Source = (*Source)(nil)

func NewSource() *Source {
	return &Source{
		in:       make(chan time.Time),
		released: make(chan struct{}),
	}
}

func (s *Source) Ticks(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		defer s.once.Do(func() { close(s.released) })
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-s.in:
				select {
				case out <- now:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Send delivers one instant to the consumer. It returns false if the
// source was released first.
func (s *Source) Send(now time.Time) bool {
	select {
	case s.in <- now:
		return true
	case <-s.released:
		return false
	}
}

// Released is closed once the consuming context ended and the source
// stopped.
func (s *Source) Released() <-chan struct{} {
	return s.released
}
