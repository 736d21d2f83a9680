package alarm

import "sync"

// Subscription delivers alarm state changes. Its channel holds only the
// latest state: a slow reader skips intermediate states but never sees a
// stale one last.
type Subscription struct {
	ctrl *Controller
	c    chan State
	once sync.Once
}

// Subscribe returns a subscription primed with the current state. On a
// closed controller the channel is already closed.
func (c *Controller) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscription{ctrl: c, c: make(chan State, 1)}
	if c.closed {
		sub.closeLocked()
		return sub
	}
	sub.c <- c.state
	c.subs[sub] = struct{}{}
	return sub
}

func (s *Subscription) C() <-chan State {
	return s.c
}

// Close ends the subscription and closes its channel.
func (s *Subscription) Close() {
	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		close(s.c)
	})
	delete(s.ctrl.subs, s)
}

func (c *Controller) publishLocked() {
	for sub := range c.subs {
		select {
		case <-sub.c:
		default:
		}
		sub.c <- c.state
	}
}
