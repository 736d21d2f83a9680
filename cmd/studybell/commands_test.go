package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"studybell/internal/store"
)

// 2025-01-06 is a Monday.
var monday0830 = time.Date(2025, 1, 6, 8, 30, 0, 0, time.UTC)

type cli struct {
	app *App
	fs  afero.Fs
	db  string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	fs := afero.NewMemMapFs()
	app := NewApp(fs)
	app.now = func() time.Time { return monday0830 }
	return &cli{app: app, fs: fs, db: filepath.Join(t.TempDir(), "studybell.db")}
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := SetupCommands(c.app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", "/studybell/config.yaml", "--database", c.db}, args...))
	err := cmd.ExecuteContext(context.Background())
	c.app.Close()
	return out.String(), err
}

func (c *cli) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func TestStudyCommandsPersistAcrossRuns(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun(t, "study", "add", "Chemistry", "7:15", "friday")
	if want := "Added study #4: Chemistry on Friday at 07:15"; !strings.Contains(out, want) {
		t.Errorf("add output = %q, want %q", out, want)
	}

	out = c.mustRun(t, "study", "list")
	for _, want := range []string{"Math", "Physics", "Biology", "Chemistry"} {
		if !strings.Contains(out, want) {
			t.Errorf("list is missing %s:\n%s", want, out)
		}
	}

	out = c.mustRun(t, "study", "list", "--day", "Friday")
	if strings.Contains(out, "Math") || !strings.Contains(out, "Chemistry") {
		t.Errorf("filtered list:\n%s", out)
	}

	if out := c.mustRun(t, "study", "rm", "4"); !strings.Contains(out, "Removed study #4") {
		t.Errorf("rm output = %q", out)
	}
	if out := c.mustRun(t, "study", "rm", "4"); !strings.Contains(out, "No study entry #4") {
		t.Errorf("second rm output = %q", out)
	}
	if _, err := c.run(t, "study", "rm", "four"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestRoutineAddRejectsBadTime(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "routine", "add", "Water", "25:00")
	if !errors.Is(err, store.ErrInvalidEntry) {
		t.Fatalf("err = %v, want ErrInvalidEntry", err)
	}
	if out := c.mustRun(t, "routine", "list"); strings.Contains(out, "Water") {
		t.Errorf("invalid entry was stored:\n%s", out)
	}
}

func TestCheck(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		at   string
		want string
	}{
		{"09:00", "📚 It's time to study: Math"},
		{"Tuesday 7:00", "⏰ Reminder: Breakfast"},
		{"2025-01-09T14:00:00Z", "📚 It's time to study: Biology"},
		{"03:00", "Nothing due on Monday at 03:00"},
	}
	for _, tt := range tests {
		out := c.mustRun(t, "check", "--at", tt.at)
		if got := strings.TrimSpace(out); got != tt.want {
			t.Errorf("check --at %q\ngot:  %s\nwant: %s", tt.at, got, tt.want)
		}
	}

	if _, err := c.run(t, "check", "--at", "noon"); err == nil {
		t.Error("expected error for unparsable --at")
	}
}

func TestUpcoming(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun(t, "upcoming", "--hours", "3")
	if !strings.Contains(out, "Math") || !strings.Contains(out, "30 minutes from now") {
		t.Errorf("upcoming:\n%s", out)
	}
	if strings.Contains(out, "Sleep") {
		t.Errorf("Sleep is outside the window:\n%s", out)
	}
}

func TestExportThenImport(t *testing.T) {
	src := newCLI(t)
	feed := src.mustRun(t, "export")
	if !strings.HasPrefix(feed, "BEGIN:VCALENDAR") {
		t.Fatalf("export:\n%s", feed)
	}

	dst := newCLI(t)
	dst.fs = src.fs
	dst.app.fs = src.fs
	if err := afero.WriteFile(dst.fs, "/feed.ics", []byte(feed), 0o600); err != nil {
		t.Fatal(err)
	}

	// The destination starts from the same seed, so nothing new lands.
	out := dst.mustRun(t, "import", "/feed.ics")
	if want := "Imported 0 study and 0 routine entries (8 duplicate, 0 invalid, 0 skipped)"; !strings.Contains(out, want) {
		t.Errorf("import output = %q, want %q", out, want)
	}

	if _, err := dst.run(t, "import", "/missing.ics"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseAt(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"", monday0830},
		{"9:05", time.Date(2025, 1, 6, 9, 5, 0, 0, time.UTC)},
		{"saturday 22:30", time.Date(2025, 1, 11, 22, 30, 0, 0, time.UTC)},
		{"Sunday 05:00", time.Date(2025, 1, 5, 5, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseAt(tt.in, monday0830)
		if err != nil {
			t.Errorf("parseAt(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseAt(%q)\ngot:  %v\nwant: %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"noon", "Caturday 09:00", "24:00"} {
		if _, err := parseAt(bad, monday0830); err == nil {
			t.Errorf("parseAt(%q) should fail", bad)
		}
	}
}
