// Package agenda expands reminder entries into concrete upcoming
// occurrences. Study entries become weekly rules and routine entries
// daily rules.
package agenda

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "studybell/internal/log"
	"studybell/internal/model"
)

const defaultLimit = 50

// Config bounds an expansion.
type Config struct {
	// From is the start of the window. It is truncated to the minute so
	// a reminder due in the current minute is still listed.
	From time.Time
	// Horizon is the window length.
	Horizon time.Duration
	// Limit caps the number of occurrences returned. Zero means
	// defaultLimit.
	Limit int
}

var rruleDays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// StudyRule returns the weekly recurrence of a study entry anchored on
// the day of from.
func StudyRule(e model.StudyEntry, from time.Time) (*rrule.RRule, error) {
	h, m, ok := model.SplitClock(e.Time)
	if !ok {
		return nil, errors.New("agenda: time is not canonical HH:MM")
	}
	_, wd, ok := model.ParseDay(e.Day)
	if !ok {
		return nil, errors.New("agenda: unknown day")
	}
	return rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{rruleDays[wd]},
		Dtstart:   anchor(from, h, m),
	})
}

// RoutineRule returns the daily recurrence of a routine entry.
func RoutineRule(e model.RoutineEntry, from time.Time) (*rrule.RRule, error) {
	h, m, ok := model.SplitClock(e.Time)
	if !ok {
		return nil, errors.New("agenda: time is not canonical HH:MM")
	}
	return rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: anchor(from, h, m),
	})
}

// Upcoming lists the occurrences of all entries inside the window,
// ordered by time. At equal times study entries come before routine
// entries and each collection keeps its stored order, the same
// precedence the matcher applies. Entries that cannot be expanded are
// skipped.
func Upcoming(study []model.StudyEntry, routine []model.RoutineEntry, cfg Config) []model.Occurrence {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	from := cfg.From.Truncate(time.Minute)
	to := from.Add(cfg.Horizon)

	type ranked struct {
		occ   model.Occurrence
		order int
	}
	var all []ranked

	for i, e := range study {
		r, err := StudyRule(e, from)
		if err != nil {
			appLog.Debug("agenda: skipping study entry", "id", e.ID, "reason", err)
			continue
		}
		for _, at := range r.Between(from, to, true) {
			all = append(all, ranked{
				occ:   model.Occurrence{Kind: model.KindStudy, EntryID: e.ID, Summary: e.Subject, At: at},
				order: i,
			})
		}
	}
	for i, e := range routine {
		r, err := RoutineRule(e, from)
		if err != nil {
			appLog.Debug("agenda: skipping routine entry", "id", e.ID, "reason", err)
			continue
		}
		for _, at := range r.Between(from, to, true) {
			all = append(all, ranked{
				occ:   model.Occurrence{Kind: model.KindRoutine, EntryID: e.ID, Summary: e.Activity, At: at},
				order: len(study) + i,
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].occ.At.Equal(all[j].occ.At) {
			return all[i].occ.At.Before(all[j].occ.At)
		}
		return all[i].order < all[j].order
	})

	if len(all) > cfg.Limit {
		all = all[:cfg.Limit]
	}
	out := make([]model.Occurrence, 0, len(all))
	for _, r := range all {
		out = append(out, r.occ)
	}
	return out
}

func anchor(from time.Time, hour, minute int) time.Time {
	return time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
}
