package agenda

import (
	"testing"
	"time"

	"studybell/internal/model"
)

// 2025-01-06 is a Monday.
var mondayMorning = time.Date(2025, 1, 6, 8, 30, 12, 0, time.UTC)

func TestUpcomingOrdersAndPrefersStudy(t *testing.T) {
	study := []model.StudyEntry{
		{ID: 1, Subject: "Math", Time: "09:00", Day: "Monday"},
		{ID: 2, Subject: "Physics", Time: "11:00", Day: "Tuesday"},
	}
	routine := []model.RoutineEntry{
		{ID: 1, Activity: "Breakfast", Time: "09:00"},
		{ID: 2, Activity: "Sleep", Time: "22:30"},
	}

	got := Upcoming(study, routine, Config{From: mondayMorning, Horizon: 30 * time.Hour})

	want := []struct {
		kind    model.Kind
		summary string
		at      time.Time
	}{
		{model.KindStudy, "Math", time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)},
		{model.KindRoutine, "Breakfast", time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)},
		{model.KindRoutine, "Sleep", time.Date(2025, 1, 6, 22, 30, 0, 0, time.UTC)},
		{model.KindRoutine, "Breakfast", time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)},
		{model.KindStudy, "Physics", time.Date(2025, 1, 7, 11, 0, 0, 0, time.UTC)},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Kind != w.kind || g.Summary != w.summary || !g.At.Equal(w.at) {
			t.Errorf("occurrence %d\ngot:  %s %s %v\nwant: %s %s %v", i, g.Kind, g.Summary, g.At, w.kind, w.summary, w.at)
		}
	}
}

func TestUpcomingIncludesCurrentMinute(t *testing.T) {
	from := time.Date(2025, 1, 6, 22, 30, 45, 0, time.UTC)
	got := Upcoming(nil, []model.RoutineEntry{{ID: 1, Activity: "Sleep", Time: "22:30"}}, Config{From: from, Horizon: time.Hour})
	if len(got) != 1 {
		t.Fatalf("expected the due reminder, got %+v", got)
	}
}

func TestUpcomingSkipsMalformedAndLimits(t *testing.T) {
	routine := []model.RoutineEntry{
		{ID: 1, Activity: "Bad", Time: "7:00"},
		{ID: 2, Activity: "Water", Time: "10:00"},
	}
	got := Upcoming(nil, routine, Config{From: mondayMorning, Horizon: 7 * 24 * time.Hour, Limit: 3})
	if len(got) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(got))
	}
	for _, o := range got {
		if o.Summary == "Bad" {
			t.Error("malformed entry expanded")
		}
	}
}

func TestStudyRuleWeekly(t *testing.T) {
	r, err := StudyRule(model.StudyEntry{Subject: "Biology", Time: "14:00", Day: "Thursday"}, mondayMorning)
	if err != nil {
		t.Fatal(err)
	}
	got := r.Between(mondayMorning, mondayMorning.AddDate(0, 0, 14), true)
	if len(got) != 2 {
		t.Fatalf("expected two Thursdays, got %v", got)
	}
	for _, at := range got {
		if at.Weekday() != time.Thursday || at.Hour() != 14 || at.Minute() != 0 {
			t.Errorf("bad occurrence %v", at)
		}
	}

	if _, err := StudyRule(model.StudyEntry{Time: "14:00", Day: "Caturday"}, mondayMorning); err == nil {
		t.Error("expected error for unknown day")
	}
}
