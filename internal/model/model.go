package model

import (
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes the two reminder collections.
type Kind string

const (
	KindStudy   Kind = "study"
	KindRoutine Kind = "routine"
)

// StudyEntry is a weekly reminder: a subject at a time of day on one
// weekday. Entries are never mutated in place; the store replaces or
// drops them by ID.
type StudyEntry struct {
	ID      int    `json:"id" yaml:"id,omitempty"`
	Subject string `json:"subject" yaml:"subject"`
	// Time is the canonical 24-hour "HH:MM" form.
	Time string `json:"time" yaml:"time"`
	// Day is one of the names in Weekdays.
	Day string `json:"day" yaml:"day"`
}

// RoutineEntry is a daily reminder with no weekday dimension.
type RoutineEntry struct {
	ID       int    `json:"id" yaml:"id,omitempty"`
	Activity string `json:"activity" yaml:"activity"`
	Time     string `json:"time" yaml:"time"`
}

// Occurrence is a single concrete firing of an entry, produced when
// listing upcoming reminders.
type Occurrence struct {
	Kind    Kind      `json:"kind"`
	EntryID int       `json:"entry_id"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

// Weekdays holds the day names indexed by time.Weekday (0=Sunday). The
// names are fixed English strings so matching never depends on locale.
var Weekdays = [7]string{
	"Sunday",
	"Monday",
	"Tuesday",
	"Wednesday",
	"Thursday",
	"Friday",
	"Saturday",
}

// DayName returns the locale-independent name of d.
func DayName(d time.Weekday) string {
	return Weekdays[int(d)%7]
}

// ParseDay resolves a day name case-insensitively to its canonical
// spelling and weekday index.
func ParseDay(s string) (string, time.Weekday, bool) {
	s = strings.TrimSpace(s)
	for i, name := range Weekdays {
		if strings.EqualFold(s, name) {
			return name, time.Weekday(i), true
		}
	}
	return "", 0, false
}

// CanonicalTime normalizes a time of day to zero-padded 24-hour "HH:MM".
// A single-digit hour ("9:05") is accepted; minutes must have two digits.
func CanonicalTime(s string) (string, bool) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || len(hs) < 1 || len(hs) > 2 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return "", false
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return "", false
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return "", false
	}
	return FormatClock(h, m), true
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SplitClock parses a canonical "HH:MM" string. Non-canonical input is
// rejected.
func SplitClock(s string) (hour, minute int, ok bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, false
	}
	c, ok := CanonicalTime(s)
	if !ok || c != s {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(s[:2])
	minute, _ = strconv.Atoi(s[3:])
	return hour, minute, true
}

func FormatClock(hour, minute int) string {
	var b [5]byte
	b[0] = byte('0' + hour/10)
	b[1] = byte('0' + hour%10)
	b[2] = ':'
	b[3] = byte('0' + minute/10)
	b[4] = byte('0' + minute%10)
	return string(b[:])
}
