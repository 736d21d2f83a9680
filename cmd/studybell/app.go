package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"studybell/internal/agenda"
	"studybell/internal/alarm"
	"studybell/internal/clock"
	"studybell/internal/config"
	"studybell/internal/ics"
	"studybell/internal/indicator"
	appLog "studybell/internal/log"
	"studybell/internal/match"
	"studybell/internal/model"
	"studybell/internal/session"
	"studybell/internal/store"
	"studybell/internal/store/sqlite"
	"studybell/internal/web"
)

const shutdownTimeout = 5 * time.Second

// App holds what every command needs: the config and the opened store.
type App struct {
	fs afero.Fs

	configPath string
	database   string
	listen     string

	cfg   *config.Config
	kv    *sqlite.KV
	store *store.Store
	now   func() time.Time
}

func NewApp(fs afero.Fs) *App {
	return &App{fs: fs, now: time.Now}
}

// Open loads the config and the schedule. Flag values override the file.
func (a *App) Open(ctx context.Context) error {
	cfg, err := config.Load(a.fs, a.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", a.configPath)
		return err
	}
	if a.database != "" {
		cfg.Database = a.database
	}
	if a.listen != "" {
		cfg.Listen = a.listen
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	a.cfg = cfg

	kv, err := sqlite.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.kv = kv

	a.store = store.New(kv)
	if err := a.store.Load(ctx, cfg.Seed.Study, cfg.Seed.Routine); err != nil {
		return err
	}
	return nil
}

func (a *App) Close() error {
	if a.kv == nil {
		return nil
	}
	kv := a.kv
	a.kv = nil
	return kv.Close()
}

// Serve runs the scheduler session and the HTTP API until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfg

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"database", cfg.Database,
		"clock_format", cfg.ClockFormat,
		"display_interval", cfg.DisplayInterval,
		"match_schedule", cfg.MatchSchedule,
		"while_active", cfg.Alarm.WhileActive,
		"gpio_pin", cfg.Indicator.GPIOPin,
		"study_count", len(a.store.Study()),
		"routine_count", len(a.store.Routine()),
	)

	matchSrc, err := clock.Cron(cfg.MatchSchedule)
	if err != nil {
		return fmt.Errorf("match_schedule: %w", err)
	}

	ind := indicator.Default(cfg.Indicator.GPIOPin)
	defer ind.Close()

	sess, err := session.New(session.Options{
		Store: a.store,
		Alarm: alarm.New(alarm.Options{
			FlashInterval: cfg.Alarm.FlashInterval,
			FlashCount:    cfg.Alarm.FlashCount,
			Policy:        alarm.Policy(cfg.Alarm.WhileActive),
		}),
		Display:     clock.Every(clock.Real(), cfg.DisplayInterval),
		Match:       matchSrc,
		ClockFormat: cfg.ClockFormat,
		Indicator:   ind,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(cfg, sess, ics.NewFetcher(a.fs, cfg.FeedCacheDir)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sessCtx, stopSession := context.WithCancel(ctx)
	defer stopSession()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(sessCtx); err != nil {
			appLog.Error("session ended", err)
		}
	}()

	errc := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		appLog.Error("HTTP server failed", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}

	stopSession()
	wg.Wait()
	return serveErr
}

func (a *App) AddStudy(ctx context.Context, w io.Writer, subject, hhmm, day string) error {
	e, err := a.store.AddStudy(ctx, subject, hhmm, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Added study #%d: %s on %s at %s\n", e.ID, e.Subject, e.Day, e.Time)
	return nil
}

func (a *App) AddRoutine(ctx context.Context, w io.Writer, activity, hhmm string) error {
	e, err := a.store.AddRoutine(ctx, activity, hhmm)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Added routine #%d: %s at %s\n", e.ID, e.Activity, e.Time)
	return nil
}

func (a *App) ListStudy(w io.Writer, day string) error {
	entries := a.store.Study()
	if day != "" {
		if _, _, ok := model.ParseDay(day); !ok {
			return fmt.Errorf("unknown day %q", day)
		}
		entries = a.store.StudyByDay(day)
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{fmt.Sprint(e.ID), e.Day, e.Time, e.Subject})
	}
	PrintTable(w, []string{"ID", "Day", "Time", "Subject"}, rows)
	return nil
}

func (a *App) ListRoutine(w io.Writer) error {
	entries := a.store.Routine()
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{fmt.Sprint(e.ID), e.Time, e.Activity})
	}
	PrintTable(w, []string{"ID", "Time", "Activity"}, rows)
	return nil
}

func (a *App) RemoveStudy(ctx context.Context, w io.Writer, id int) error {
	return a.remove(ctx, w, "study", id, a.store.DeleteStudy)
}

func (a *App) RemoveRoutine(ctx context.Context, w io.Writer, id int) error {
	return a.remove(ctx, w, "routine", id, a.store.DeleteRoutine)
}

func (a *App) remove(ctx context.Context, w io.Writer, kind string, id int, del func(context.Context, int) (bool, error)) error {
	found, err := del(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(w, "No %s entry #%d\n", kind, id)
		return nil
	}
	fmt.Fprintf(w, "Removed %s #%d\n", kind, id)
	return nil
}

// Check prints the reminder that would fire at the given instant.
func (a *App) Check(w io.Writer, at time.Time) error {
	study, routine := a.store.Snapshot()
	m, ok := match.Evaluate(at, study, routine)
	if !ok {
		fmt.Fprintf(w, "Nothing due on %s at %s\n", clock.DayName(at), clock.HHMM(at))
		return nil
	}
	fmt.Fprintln(w, m.Message())
	return nil
}

// Upcoming prints the reminders due in the next hours.
func (a *App) Upcoming(w io.Writer, hours int) error {
	if hours <= 0 {
		hours = a.cfg.UpcomingHours
	}
	now := a.now()
	study, routine := a.store.Snapshot()
	occ := agenda.Upcoming(study, routine, agenda.Config{From: now, Horizon: time.Duration(hours) * time.Hour})

	rows := make([][]string, 0, len(occ))
	for _, o := range occ {
		rows = append(rows, []string{
			clock.DayName(o.At),
			clock.FormatDisplay(o.At, a.cfg.ClockFormat),
			string(o.Kind),
			o.Summary,
			humanize.RelTime(o.At, now, "ago", "from now"),
		})
	}
	PrintTable(w, []string{"Day", "Time", "Kind", "Summary", "In"}, rows)
	return nil
}

// Export writes the schedule as iCalendar to w.
func (a *App) Export(w io.Writer) error {
	study, routine := a.store.Snapshot()
	_, err := io.WriteString(w, ics.Export(study, routine, a.now()))
	return err
}

// Import merges reminders from a local .ics file or an http(s) feed.
func (a *App) Import(ctx context.Context, w io.Writer, src string) error {
	var body []byte
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		res, err := ics.NewFetcher(a.fs, a.cfg.FeedCacheDir).Fetch(ctx, src)
		if err != nil {
			return err
		}
		body = res.Body
	} else {
		b, err := afero.ReadFile(a.fs, src)
		if err != nil {
			return err
		}
		body = b
	}

	parsed, err := ics.Parse(body)
	if err != nil {
		return err
	}
	res, err := a.store.Merge(ctx, parsed.Study, parsed.Routine)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Imported %d study and %d routine entries (%d duplicate, %d invalid, %d skipped)\n",
		len(res.Study), len(res.Routine), res.Duplicate, res.Invalid, parsed.Skipped)
	return nil
}
