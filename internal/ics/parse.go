package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"studybell/internal/clock"
	appLog "studybell/internal/log"
	"studybell/internal/model"
)

// Imported holds the entries recovered from an iCalendar payload. IDs
// are left zero; the store assigns them on add.
type Imported struct {
	Study   []model.StudyEntry
	Routine []model.RoutineEntry
	// Skipped counts events that are not weekly or daily reminders.
	Skipped int
}

// Parse reads VEVENTs from body. A DAILY rule becomes a routine entry; a
// WEEKLY rule becomes one study entry per BYDAY (or the start's weekday
// when BYDAY is absent). Anything else is skipped.
func Parse(body []byte) (Imported, error) {
	var out Imported
	if len(body) == 0 {
		return out, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return out, err
	}

	for _, ve := range cal.Events() {
		if perr := parseVEvent(ve, &out); perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Debug("ics vevent skipped", "reason", perr)
			out.Skipped++
		}
	}

	appLog.Info("ics parse completed",
		"study_count", len(out.Study),
		"routine_count", len(out.Routine),
		"skipped", out.Skipped,
	)
	return out, nil
}

func parseVEvent(ve *ical.VEvent, out *Imported) error {
	var summary string
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		summary = strings.TrimSpace(p.Value)
	}
	if summary == "" {
		return errors.New("missing SUMMARY")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return errors.New("missing DTSTART")
	}
	if isAllDay(dtStart) {
		return errors.New("all-day event")
	}
	start, err := parseICSTime(dtStart.Value, tzid(dtStart))
	if err != nil {
		return err
	}
	start = start.In(time.Local)
	hhmm := clock.HHMM(start)

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil {
		return errors.New("not recurring")
	}
	opt, err := rrule.StrToROption(rruleProp.Value)
	if err != nil {
		return err
	}

	switch opt.Freq {
	case rrule.DAILY:
		out.Routine = append(out.Routine, model.RoutineEntry{Activity: summary, Time: hhmm})
	case rrule.WEEKLY:
		if len(opt.Byweekday) == 0 {
			out.Study = append(out.Study, model.StudyEntry{Subject: summary, Time: hhmm, Day: clock.DayName(start)})
			return nil
		}
		for i := range opt.Byweekday {
			// rrule counts weekdays from Monday.
			wd := time.Weekday((opt.Byweekday[i].Day() + 1) % 7)
			out.Study = append(out.Study, model.StudyEntry{Subject: summary, Time: hhmm, Day: model.DayName(wd)})
		}
	default:
		return errors.New("unsupported recurrence frequency")
	}
	return nil
}

func isAllDay(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzid(p *ical.IANAProperty) string {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

// parseICSTime parses an ICS date-time. UTC values end in "Z"; values
// with a TZID are read in that zone; floating values use time.Local.
func parseICSTime(v, tz string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := time.Local
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, err
		}
		loc = l
	}
	return time.ParseInLocation(floatingLayout, v, loc)
}
