package ics

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"studybell/internal/agenda"
	appLog "studybell/internal/log"
	"studybell/internal/model"
)

const (
	productID = "-//studybell//schedule//EN"

	categoryStudy   = "STUDY"
	categoryRoutine = "ROUTINE"

	// floatingLayout writes local wall-clock times without a zone, so a
	// 09:00 reminder stays at 09:00 across DST changes.
	floatingLayout = "20060102T150405"

	reminderLength = 30 * time.Minute
)

var icsDays = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// Export renders both collections as an iCalendar feed. Study entries
// become weekly events and routine entries daily events, each starting at
// its first occurrence at or after now.
func Export(study []model.StudyEntry, routine []model.RoutineEntry, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	from := now.Truncate(time.Minute)

	for _, e := range study {
		r, err := agenda.StudyRule(e, from)
		if err != nil {
			appLog.Debug("ics export: skipping study entry", "id", e.ID, "reason", err)
			continue
		}
		_, wd, _ := model.ParseDay(e.Day)
		addEvent(cal, "study-"+strconv.Itoa(e.ID), e.Subject, categoryStudy,
			r.After(from, true), now, "FREQ=WEEKLY;BYDAY="+icsDays[wd])
	}
	for _, e := range routine {
		r, err := agenda.RoutineRule(e, from)
		if err != nil {
			appLog.Debug("ics export: skipping routine entry", "id", e.ID, "reason", err)
			continue
		}
		addEvent(cal, "routine-"+strconv.Itoa(e.ID), e.Activity, categoryRoutine,
			r.After(from, true), now, "FREQ=DAILY")
	}

	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, id, summary, category string, start, stamp time.Time, rule string) {
	ev := cal.AddEvent(id + "@studybell")
	ev.SetDtStampTime(stamp)
	ev.SetSummary(summary)
	ev.SetProperty(ical.ComponentPropertyCategories, category)
	ev.SetProperty(ical.ComponentPropertyDtStart, start.Format(floatingLayout))
	ev.SetProperty(ical.ComponentPropertyDtEnd, start.Add(reminderLength).Format(floatingLayout))
	ev.AddProperty(ical.ComponentPropertyRrule, rule)
}
