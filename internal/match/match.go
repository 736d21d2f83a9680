// Package match decides whether "now" coincides with a scheduled entry.
package match

import (
	"time"

	"studybell/internal/clock"
	"studybell/internal/model"
)

// Match is the entry an evaluation selected. Exactly one of Study and
// Routine is set, according to Kind.
type Match struct {
	Kind    model.Kind
	Study   model.StudyEntry
	Routine model.RoutineEntry
}

// EntryID returns the id of the matched entry.
func (m Match) EntryID() int {
	if m.Kind == model.KindStudy {
		return m.Study.ID
	}
	return m.Routine.ID
}

// Message is the alarm text shown for the match.
func (m Match) Message() string {
	if m.Kind == model.KindStudy {
		return "📚 It's time to study: " + m.Study.Subject
	}
	return "⏰ Reminder: " + m.Routine.Activity
}

// Evaluate compares now against both collections. The first study entry
// in stored order whose time and day equal now's wins; routine entries
// are only scanned when no study entry matched, and they match on time
// alone. Comparison is exact string equality on canonical "HH:MM", so a
// malformed entry never matches.
func Evaluate(now time.Time, study []model.StudyEntry, routine []model.RoutineEntry) (Match, bool) {
	day := clock.DayName(now)
	hhmm := clock.HHMM(now)

	for _, e := range study {
		if e.Time == hhmm && e.Day == day {
			return Match{Kind: model.KindStudy, Study: e}, true
		}
	}
	for _, e := range routine {
		if e.Time == hhmm {
			return Match{Kind: model.KindRoutine, Routine: e}, true
		}
	}
	return Match{}, false
}
