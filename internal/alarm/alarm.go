// Package alarm owns the single active-alarm state of a session.
//
// The controller has two phases. A match moves it from Idle to Active and
// starts a bounded flash sequence; only Dismiss moves it back to Idle.
// Flashing is cosmetic: it stops by itself after a fixed number of ticks
// while the alarm stays Active until dismissed.
package alarm

import (
	"strconv"
	"sync"
	"time"

	"studybell/internal/clock"
	appLog "studybell/internal/log"
	"studybell/internal/match"
	"studybell/internal/model"
)

type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseActive Phase = "active"
)

// Policy selects what a new match does while an alarm is already Active.
type Policy string

const (
	// PolicyOverwrite replaces the message and restarts flashing.
	PolicyOverwrite Policy = "overwrite"
	// PolicyIgnore keeps the current alarm until it is dismissed.
	PolicyIgnore Policy = "ignore"
)

const (
	DefaultFlashInterval = 500 * time.Millisecond
	DefaultFlashCount    = 6
)

// State is a read-only view of the alarm.
type State struct {
	Phase      Phase      `json:"phase"`
	Message    string     `json:"message,omitempty"`
	FlashCount int        `json:"flash_count"`
	Flashing   bool       `json:"flashing"`
	Kind       model.Kind `json:"kind,omitempty"`
	EntryID    int        `json:"entry_id,omitempty"`
	Since      time.Time  `json:"since,omitzero"`
}

type Options struct {
	// Clock drives the flash ticker. Defaults to clock.Real().
	Clock         clock.Clock
	FlashInterval time.Duration
	FlashCount    int
	Policy        Policy
}

// Controller is the only writer of the alarm state. It is safe for
// concurrent use; the UI reads it and calls Dismiss while the session
// loop calls Trigger.
type Controller struct {
	clk           clock.Clock
	flashInterval time.Duration
	flashLimit    int
	policy        Policy

	mu      sync.Mutex
	state   State
	lastKey string
	flash   *flashRun
	gen     uint64
	subs    map[*Subscription]struct{}
	closed  bool
}

type flashRun struct {
	ticker clock.Ticker
	done   chan struct{}
	once   sync.Once
}

func (f *flashRun) stop() {
	f.once.Do(func() {
		close(f.done)
		f.ticker.Stop()
	})
}

func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.FlashInterval <= 0 {
		opts.FlashInterval = DefaultFlashInterval
	}
	if opts.FlashCount <= 0 {
		opts.FlashCount = DefaultFlashCount
	}
	if opts.Policy != PolicyIgnore {
		opts.Policy = PolicyOverwrite
	}
	return &Controller{
		clk:           opts.Clock,
		flashInterval: opts.FlashInterval,
		flashLimit:    opts.FlashCount,
		policy:        opts.Policy,
		state:         State{Phase: PhaseIdle},
		subs:          make(map[*Subscription]struct{}),
	}
}

// Trigger raises an alarm for m observed at the instant at. It reports
// whether the alarm state changed. A match for the same entry in the
// same calendar minute as the previous one is suppressed, as is any
// match while Active under PolicyIgnore.
func (c *Controller) Trigger(m match.Match, at time.Time) bool {
	key := firingKey(m, at)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if key == c.lastKey {
		appLog.Debug("alarm suppressed: already fired this minute", "kind", m.Kind, "entry_id", m.EntryID())
		return false
	}
	c.lastKey = key

	if c.state.Phase == PhaseActive && c.policy == PolicyIgnore {
		appLog.Info("alarm ignored: another alarm is active",
			"kind", m.Kind,
			"entry_id", m.EntryID(),
			"active_entry_id", c.state.EntryID,
		)
		return false
	}
	if c.state.Phase == PhaseActive {
		appLog.Info("alarm overwritten", "previous", c.state.Message)
	}

	c.state = State{
		Phase:   PhaseActive,
		Message: m.Message(),
		Kind:    m.Kind,
		EntryID: m.EntryID(),
		Since:   at,
	}
	c.startFlashLocked()
	appLog.Info("alarm fired", "kind", m.Kind, "entry_id", m.EntryID(), "message", c.state.Message)
	c.publishLocked()
	return true
}

// Dismiss returns the controller to Idle and cancels any flash in
// progress. Dismissing an Idle controller changes nothing.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase == PhaseIdle {
		return
	}
	c.stopFlashLocked()
	appLog.Info("alarm dismissed", "message", c.state.Message, "flash_count", c.state.FlashCount)
	c.state = State{Phase: PhaseIdle}
	c.publishLocked()
}

// Close cancels the flash timer and ends all subscriptions. The
// controller ignores further triggers.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.stopFlashLocked()
	c.state.Flashing = false
	for sub := range c.subs {
		sub.closeLocked()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Phase() Phase    { return c.State().Phase }
func (c *Controller) Message() string { return c.State().Message }
func (c *Controller) FlashCount() int { return c.State().FlashCount }

func (c *Controller) startFlashLocked() {
	c.stopFlashLocked()
	c.gen++
	run := &flashRun{
		ticker: c.clk.NewTicker(c.flashInterval),
		done:   make(chan struct{}),
	}
	c.flash = run
	c.state.Flashing = true
	go c.flashLoop(run, c.gen)
}

func (c *Controller) stopFlashLocked() {
	if c.flash == nil {
		return
	}
	c.flash.stop()
	c.flash = nil
}

func (c *Controller) flashLoop(run *flashRun, gen uint64) {
	for {
		select {
		case <-run.done:
			return
		case <-run.ticker.C():
			if !c.flashTick(gen) {
				return
			}
		}
	}
}

// flashTick counts one flash and reports whether the sequence goes on.
func (c *Controller) flashTick(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A stale run from an overwritten or dismissed alarm.
	if gen != c.gen || c.flash == nil {
		return false
	}
	c.state.FlashCount++
	if c.state.FlashCount >= c.flashLimit {
		c.stopFlashLocked()
		c.state.Flashing = false
		appLog.Debug("alarm flash finished", "flash_count", c.state.FlashCount)
	}
	c.publishLocked()
	return c.flash != nil
}

func firingKey(m match.Match, at time.Time) string {
	return string(m.Kind) + "/" + strconv.Itoa(m.EntryID()) + "/" + at.Format("2006-01-02T15:04")
}
