// Package clock supplies "now" instants to the scheduler on fixed
// cadences. A Source is a lazy, infinite tick sequence that is consumed
// once and stops (releasing its timer) when the consuming context ends.
package clock

import (
	"context"
	"sync"
	"time"

	"studybell/internal/model"
)

// Clock is the seam between timer-driven code and the time package.
// Production code uses Real; tests use clocktest.Clock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is a periodic timer. Stop releases it; no tick is delivered
// after Stop returns.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Source produces "now" instants on a cadence. Ticks starts the
// underlying timer and returns a channel that is closed after ctx is
// done and the timer has been released. A Source is not restartable:
// every call after the first returns an already closed channel.
type Source interface {
	Ticks(ctx context.Context) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// oneShot guards the non-restartable contract shared by all sources.
type oneShot struct {
	once sync.Once
}

// claim reports whether this is the first call.
func (o *oneShot) claim() bool {
	first := false
	o.once.Do(func() { first = true })
	return first
}

func closedTicks() <-chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}

type tickerSource struct {
	oneShot
	clk    Clock
	period time.Duration
}

// Every returns a Source that ticks every period using clk. It is used
// for the one-second display cadence.
func Every(clk Clock, period time.Duration) Source {
	if clk == nil {
		clk = Real()
	}
	return &tickerSource{clk: clk, period: period}
}

func (s *tickerSource) Ticks(ctx context.Context) <-chan time.Time {
	if !s.claim() {
		return closedTicks()
	}

	out := make(chan time.Time, 1)
	t := s.clk.NewTicker(s.period)

	go func() {
		defer close(out)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C():
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

// DayName returns the weekday name used for matching.
func DayName(t time.Time) string {
	return model.DayName(t.Weekday())
}

// HHMM returns the canonical minute-granularity time of day used for
// matching. Seconds are discarded.
func HHMM(t time.Time) string {
	return model.FormatClock(t.Hour(), t.Minute())
}

const (
	Format24h = "24h"
	Format12h = "12h"
)

// FormatDisplay renders t as hour:minute for presentation. It is never
// used for matching.
func FormatDisplay(t time.Time, format string) string {
	if format == Format12h {
		return t.Format("03:04 PM")
	}
	return t.Format("15:04")
}
