package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dustin/go-humanize"

	"studybell/internal/agenda"
	"studybell/internal/alarm"
	"studybell/internal/clock"
	"studybell/internal/config"
	"studybell/internal/ics"
	appLog "studybell/internal/log"
	"studybell/internal/model"
	"studybell/internal/session"
	"studybell/internal/store"
)

// maxBodyBytes bounds request bodies, including uploaded ICS files.
const maxBodyBytes = 1 << 20

// Server exposes the schedule CRUD boundary, the alarm state and the
// ICS import/export over HTTP.
type Server struct {
	cfg     *config.Config
	sess    *session.Session
	fetcher *ics.Fetcher
	mux     *http.ServeMux
}

// NewServer constructs a new Server. fetcher may be nil, in which case
// URL imports are rejected.
func NewServer(cfg *config.Config, sess *session.Session, fetcher *ics.Fetcher) *Server {
	s := &Server{
		cfg:     cfg,
		sess:    sess,
		fetcher: fetcher,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="studybell", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/now", s.handleNow)

	s.mux.HandleFunc("GET /api/study", s.handleListStudy)
	s.mux.HandleFunc("POST /api/study", s.handleAddStudy)
	s.mux.HandleFunc("DELETE /api/study/{id}", s.handleDeleteStudy)

	s.mux.HandleFunc("GET /api/routine", s.handleListRoutine)
	s.mux.HandleFunc("POST /api/routine", s.handleAddRoutine)
	s.mux.HandleFunc("DELETE /api/routine/{id}", s.handleDeleteRoutine)

	s.mux.HandleFunc("GET /api/alarm", s.handleAlarm)
	s.mux.HandleFunc("POST /api/alarm/dismiss", s.handleDismiss)
	s.mux.HandleFunc("GET /api/alarm/ws", s.handleAlarmWS)

	s.mux.HandleFunc("GET /api/upcoming", s.handleUpcoming)
	s.mux.HandleFunc("GET /api/schedule.ics", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// nowResponse is the JSON response shape for /api/now.
type nowResponse struct {
	Display string    `json:"display"`
	Time    string    `json:"time"`
	Day     string    `json:"day"`
	Now     time.Time `json:"now"`
}

func (s *Server) handleNow(w http.ResponseWriter, _ *http.Request) {
	now := s.sess.Now()
	writeJSON(w, http.StatusOK, nowResponse{
		Display: s.sess.DisplayTime(),
		Time:    clock.HHMM(now),
		Day:     clock.DayName(now),
		Now:     now,
	})
}

// handleListStudy returns study entries in stored order.
//
// GET /api/study?day=Monday
//   - day: optional weekday filter (case-insensitive)
func (s *Server) handleListStudy(w http.ResponseWriter, r *http.Request) {
	st := s.sess.Store()
	entries := st.Study()
	if day := r.URL.Query().Get("day"); day != "" {
		if _, _, ok := model.ParseDay(day); !ok {
			writeError(w, http.StatusBadRequest, "unknown day")
			return
		}
		entries = st.StudyByDay(day)
	}
	if entries == nil {
		entries = []model.StudyEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddStudy(w http.ResponseWriter, r *http.Request) {
	var in model.StudyEntry
	if !decodeJSON(w, r, &in) {
		return
	}
	e, err := s.sess.Store().AddStudy(r.Context(), in.Subject, in.Time, in.Day)
	if !writeAddError(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleDeleteStudy(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.sess.Store().DeleteStudy)
}

func (s *Server) handleListRoutine(w http.ResponseWriter, _ *http.Request) {
	entries := s.sess.Store().Routine()
	if entries == nil {
		entries = []model.RoutineEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddRoutine(w http.ResponseWriter, r *http.Request) {
	var in model.RoutineEntry
	if !decodeJSON(w, r, &in) {
		return
	}
	e, err := s.sess.Store().AddRoutine(r.Context(), in.Activity, in.Time)
	if !writeAddError(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleDeleteRoutine(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.sess.Store().DeleteRoutine)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, del func(context.Context, int) (bool, error)) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	found, err := del(r.Context(), id)
	if err != nil {
		appLog.Error("api delete: persist failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "entry removed but not saved")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAddError maps an add error to a response. It reports whether the
// caller should go on and write the created entry.
func writeAddError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api add: persist failed", err)
		writeError(w, http.StatusInternalServerError, "entry added but not saved")
	}
	return false
}

func (s *Server) handleAlarm(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Alarm().State())
}

func (s *Server) handleDismiss(w http.ResponseWriter, _ *http.Request) {
	a := s.sess.Alarm()
	a.Dismiss()
	writeJSON(w, http.StatusOK, a.State())
}

// handleAlarmWS streams alarm states to a WebSocket client, starting with
// the current one. Intermediate states may be skipped for a slow client.
func (s *Server) handleAlarmWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		appLog.Error("alarm ws: accept failed", err)
		return
	}
	defer conn.CloseNow()

	// Incoming messages are ignored; CloseRead cancels ctx when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	sub := s.sess.Alarm().Subscribe()
	defer sub.Close()

	appLog.Debug("alarm ws: client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "scheduler stopped")
				return
			}
			if err := writeState(ctx, conn, st); err != nil {
				appLog.Debug("alarm ws: write failed", "reason", err)
				return
			}
		}
	}
}

func writeState(ctx context.Context, conn *websocket.Conn, st alarm.State) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, st)
}

// upcomingDTO is a JSON-friendly view of an occurrence.
type upcomingDTO struct {
	model.Occurrence
	In string `json:"in"`
}

// handleUpcoming lists the reminders due within a window.
//
// GET /api/upcoming?hours=24&limit=50
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours := parseIntDefault(q.Get("hours"), s.cfg.UpcomingHours)
	if hours <= 0 {
		hours = s.cfg.UpcomingHours
	}
	limit := parseIntDefault(q.Get("limit"), 0)

	now := s.sess.Now()
	study, routine := s.sess.Store().Snapshot()
	occ := agenda.Upcoming(study, routine, agenda.Config{
		From:    now,
		Horizon: time.Duration(hours) * time.Hour,
		Limit:   limit,
	})

	out := make([]upcomingDTO, 0, len(occ))
	for _, o := range occ {
		out = append(out, upcomingDTO{
			Occurrence: o,
			In:         humanize.RelTime(o.At, now, "ago", "from now"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	study, routine := s.sess.Store().Snapshot()
	body := ics.Export(study, routine, s.sess.Now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="studybell.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

type importRequest struct {
	URL string `json:"url"`
}

// importResponse is the JSON response shape for /api/import.
type importResponse struct {
	store.MergeResult
	Skipped   int  `json:"skipped"`
	FromCache bool `json:"from_cache,omitempty"`
}

// handleImport merges reminders from an iCalendar feed. The body is either
// the feed itself (Content-Type text/calendar) or {"url": "..."}.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		body      []byte
		fromCache bool
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/calendar" {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		body = b
	} else {
		var req importRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if s.fetcher == nil || strings.TrimSpace(req.URL) == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}
		res, err := s.fetcher.Fetch(ctx, strings.TrimSpace(req.URL))
		if errors.Is(err, ics.ErrFeedURL) {
			writeError(w, http.StatusBadRequest, "url must be http or https")
			return
		}
		if err != nil {
			appLog.Error("api import: fetch failed", err)
			writeError(w, http.StatusBadGateway, "failed to fetch feed")
			return
		}
		body, fromCache = res.Body, res.FromCache
	}

	parsed, err := ics.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid iCalendar data")
		return
	}

	merged, err := s.sess.Store().Merge(ctx, parsed.Study, parsed.Routine)
	if err != nil {
		appLog.Error("api import: persist failed", err)
		writeError(w, http.StatusInternalServerError, "entries added but not saved")
		return
	}
	appLog.Info("api import completed",
		"study_added", len(merged.Study),
		"routine_added", len(merged.Routine),
		"duplicate", merged.Duplicate,
		"skipped", parsed.Skipped,
	)
	writeJSON(w, http.StatusOK, importResponse{MergeResult: merged, Skipped: parsed.Skipped, FromCache: fromCache})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
