package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"studybell/internal/model"
)

func TestExportParseRoundTrip(t *testing.T) {
	now := time.Date(2025, 1, 6, 8, 0, 0, 0, time.Local)
	study := []model.StudyEntry{
		{ID: 1, Subject: "Math", Time: "09:00", Day: "Monday"},
		{ID: 2, Subject: "Biology", Time: "14:00", Day: "Thursday"},
		{ID: 3, Subject: "Broken", Time: "2pm", Day: "Friday"},
	}
	routine := []model.RoutineEntry{
		{ID: 1, Activity: "Isha Prayer", Time: "19:30"},
	}

	feed := Export(study, routine, now)
	for _, want := range []string{"BEGIN:VCALENDAR", "FREQ=WEEKLY;BYDAY=TH", "FREQ=DAILY", "UID:study-1@studybell"} {
		if !strings.Contains(feed, want) {
			t.Errorf("feed is missing %q:\n%s", want, feed)
		}
	}
	if strings.Contains(feed, "Broken") {
		t.Error("malformed entry exported")
	}

	got, err := Parse([]byte(feed))
	if err != nil {
		t.Fatal(err)
	}
	wantStudy := []model.StudyEntry{
		{Subject: "Math", Time: "09:00", Day: "Monday"},
		{Subject: "Biology", Time: "14:00", Day: "Thursday"},
	}
	if len(got.Study) != len(wantStudy) {
		t.Fatalf("study = %+v", got.Study)
	}
	for i := range wantStudy {
		if got.Study[i] != wantStudy[i] {
			t.Errorf("study %d\ngot:  %+v\nwant: %+v", i, got.Study[i], wantStudy[i])
		}
	}
	if len(got.Routine) != 1 || got.Routine[0] != (model.RoutineEntry{Activity: "Isha Prayer", Time: "19:30"}) {
		t.Errorf("routine = %+v", got.Routine)
	}
}

func TestParseWeeklyMultipleDaysAndSkips(t *testing.T) {
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:a",
		"SUMMARY:Chemistry",
		"DTSTART:20250106T160000",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:b",
		"SUMMARY:Exam",
		"DTSTART:20250110T100000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:c",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20250101",
		"RRULE:FREQ=YEARLY",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	got, err := Parse([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Study) != 2 || got.Study[0].Day != "Monday" || got.Study[1].Day != "Wednesday" || got.Study[0].Time != "16:00" {
		t.Errorf("study = %+v", got.Study)
	}
	if got.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", got.Skipped)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestFetchUsesConditionalCache(t *testing.T) {
	const etag = `"v1"`
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == etag {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(afero.NewMemMapFs(), "/cache")
	ctx := context.Background()

	first, err := f.Fetch(ctx, srv.URL+"/feed.ics?token=secret")
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache || !strings.Contains(string(first.Body), "VCALENDAR") {
		t.Errorf("first fetch = %+v", first)
	}

	second, err := f.Fetch(ctx, srv.URL+"/feed.ics?token=secret")
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache || string(second.Body) != string(first.Body) {
		t.Errorf("second fetch = %+v", second)
	}
	if notModified.Load() != 1 {
		t.Errorf("expected a conditional request, hits=%d", hits.Load())
	}
}

func TestFetchFallsBackToSavedCopyOnError(t *testing.T) {
	const calendar = "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(calendar))
	}))
	defer srv.Close()

	f := NewFetcher(afero.NewMemMapFs(), "/cache")
	ctx := context.Background()
	if _, err := f.Fetch(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}

	fail.Store(true)
	res, err := f.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !res.FromCache || string(res.Body) != calendar {
		t.Errorf("fallback = %+v", res)
	}

	if _, err := NewFetcher(afero.NewMemMapFs(), "/cache").Fetch(ctx, srv.URL); err == nil {
		t.Error("expected error without a saved copy")
	}
}

func TestFetchRejectsNonCalendarBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>login required</html>"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	if _, err := NewFetcher(fs, "/cache").Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for an HTML response")
	}
	if exists, _ := afero.DirExists(fs, "/cache"); exists {
		t.Error("a rejected body must not be saved")
	}
}

func TestFetchRejectsNonHTTPURL(t *testing.T) {
	f := NewFetcher(afero.NewMemMapFs(), "/cache")
	for _, raw := range []string{"", "file:///etc/passwd", "ftp://example.com/feed.ics", "/local/feed.ics"} {
		if _, err := f.Fetch(context.Background(), raw); !errors.Is(err, ErrFeedURL) {
			t.Errorf("Fetch(%q) err = %v, want ErrFeedURL", raw, err)
		}
	}
}

func TestRedactURL(t *testing.T) {
	if got, want := redactURL("https://example.com/private.ics?token=abcd"), "https://example.com/...(redacted)"; got != want {
		t.Errorf("redactURL\ngot:  %s\nwant: %s", got, want)
	}
}
