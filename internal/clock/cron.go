package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type cronSource struct {
	oneShot
	spec     string
	schedule cron.Schedule
	loc      *time.Location
}

// Cron returns a Source driven by a cron schedule. It runs on its own
// timer, independent of any display ticker, so the match cadence is
// never coupled to the display cadence. "@every 1m" polls every sixty
// seconds from start; "* * * * *" aligns to minute boundaries.
func Cron(spec string) (Source, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("clock: invalid match schedule %q: %w", spec, err)
	}
	return &cronSource{spec: spec, schedule: sched, loc: time.Local}, nil
}

func (s *cronSource) Ticks(ctx context.Context) <-chan time.Time {
	if !s.claim() {
		return closedTicks()
	}

	out := make(chan time.Time, 1)
	c := cron.New(cron.WithLocation(s.loc))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		// A tick the consumer has not picked up yet is stale; drop the new
		// one rather than queue evaluations.
		select {
		case out <- time.Now().In(s.loc):
		default:
		}
	}))
	c.Start()

	go func() {
		<-ctx.Done()
		// Wait for a running job before closing so it never sends on a
		// closed channel.
		<-c.Stop().Done()
		close(out)
	}()

	return out
}
