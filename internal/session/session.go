package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"studybell/internal/alarm"
	"studybell/internal/clock"
	"studybell/internal/indicator"
	appLog "studybell/internal/log"
	"studybell/internal/match"
	"studybell/internal/store"
)

// ErrAlreadyRun is returned by Run on a session that has already run.
// Tick sources are single-use, so a stopped session cannot be restarted.
var ErrAlreadyRun = errors.New("session already run")

// Options wires a Session. Store, Alarm, Display and Match are required.
type Options struct {
	Store *store.Store
	Alarm *alarm.Controller

	// Display is the fast tick source, Match the slow one.
	Display clock.Source
	Match   clock.Source

	// Clock answers Now before the first display tick. Defaults to
	// clock.Real().
	Clock clock.Clock

	// ClockFormat is clock.Format24h or clock.Format12h.
	ClockFormat string

	// Indicator, if set, mirrors the alarm state while the session runs.
	Indicator indicator.Indicator
}

// Session owns the two tick sources and the alarm for one run of the
// scheduler. All timers are released when Run returns.
type Session struct {
	store       *store.Store
	alarm       *alarm.Controller
	display     clock.Source
	match       clock.Source
	clk         clock.Clock
	clockFormat string
	ind         indicator.Indicator

	mu      sync.RWMutex
	now     time.Time
	started bool
}

func New(opts Options) (*Session, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("session: store is required")
	case opts.Alarm == nil:
		return nil, errors.New("session: alarm controller is required")
	case opts.Display == nil || opts.Match == nil:
		return nil, errors.New("session: display and match sources are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Session{
		store:       opts.Store,
		alarm:       opts.Alarm,
		display:     opts.Display,
		match:       opts.Match,
		clk:         opts.Clock,
		clockFormat: opts.ClockFormat,
		ind:         opts.Indicator,
	}, nil
}

func (s *Session) Store() *store.Store      { return s.store }
func (s *Session) Alarm() *alarm.Controller { return s.alarm }

// Run drives the session until ctx is done. Display ticks update the
// current time; match ticks evaluate the schedule. On return every tick
// source has been released and the alarm controller is closed, which
// also stops any flash in progress.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	if s.ind != nil {
		sub := s.alarm.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			indicator.Follow(sub, s.ind)
		}()
	}

	displayTicks := s.display.Ticks(ctx)
	matchTicks := s.match.Ticks(ctx)

	defer func() {
		cancel()
		// Drain until both sources close so their timers are gone
		// before Run returns.
		for range displayTicks {
		}
		for range matchTicks {
		}
		s.alarm.Close()
		wg.Wait()
		appLog.Info("session stopped")
	}()

	appLog.Info("session started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case now, ok := <-displayTicks:
			if !ok {
				return errors.New("display source closed")
			}
			s.setNow(now)
		case now, ok := <-matchTicks:
			if !ok {
				return errors.New("match source closed")
			}
			s.setNow(now)
			s.Check(now)
		}
	}
}

// Check evaluates the schedule as it stands at now and raises the alarm
// on a match. It reports the match, if any, and whether the alarm state
// changed.
func (s *Session) Check(now time.Time) (match.Match, bool) {
	study, routine := s.store.Snapshot()
	m, ok := match.Evaluate(now, study, routine)
	if !ok {
		appLog.Debug("match check: nothing due", "day", clock.DayName(now), "time", clock.HHMM(now))
		return match.Match{}, false
	}
	fired := s.alarm.Trigger(m, now)
	if fired {
		appLog.Info("alarm raised", "kind", m.Kind, "entry_id", m.EntryID(), "message", m.Message())
	}
	return m, fired
}

// Now returns the instant of the last tick, or the clock's time before
// any tick arrived.
func (s *Session) Now() time.Time {
	s.mu.RLock()
	now := s.now
	s.mu.RUnlock()
	if now.IsZero() {
		return s.clk.Now()
	}
	return now
}

// DisplayTime renders Now for presentation in the configured format.
func (s *Session) DisplayTime() string {
	return clock.FormatDisplay(s.Now(), s.clockFormat)
}

func (s *Session) setNow(t time.Time) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}
