// Package store holds the two ordered reminder collections: weekly study
// entries and daily routine entries. The scheduler only reads them; the
// CRUD boundary below is the sole writer.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	appLog "studybell/internal/log"
	"studybell/internal/model"
)

// Keys under which the collections are kept in the key-value store.
const (
	KeyStudy   = "studySchedule"
	KeyRoutine = "dailyRoutine"
)

// ErrInvalidEntry is wrapped by add operations when a required field is
// missing or malformed. No entry is created in that case.
var ErrInvalidEntry = errors.New("invalid entry")

// KV is the external key-value collaborator used for persistence.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Store is safe for concurrent use. Readers get copies, so a snapshot
// taken at tick time is never affected by later mutations.
type Store struct {
	mu      sync.RWMutex
	study   []model.StudyEntry
	routine []model.RoutineEntry

	kv KV
}

// New returns an empty Store. kv may be nil for a memory-only store.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// Load fills the store from the key-value collaborator. A collection that
// was never saved is initialized from the given seed and written back.
func (s *Store) Load(ctx context.Context, seedStudy []model.StudyEntry, seedRoutine []model.RoutineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	study, found, err := loadJSON[model.StudyEntry](ctx, s.kv, KeyStudy)
	if err != nil {
		return err
	}
	saveStudy := !found
	if found {
		if uniqueIDs(study, studyID) {
			appLog.Warn("repaired duplicate study ids", "key", KeyStudy)
			saveStudy = true
		}
	} else {
		study = seedStudyEntries(seedStudy)
	}

	routine, foundRoutine, err := loadJSON[model.RoutineEntry](ctx, s.kv, KeyRoutine)
	if err != nil {
		return err
	}
	saveRoutine := !foundRoutine
	if foundRoutine {
		if uniqueIDs(routine, routineID) {
			appLog.Warn("repaired duplicate routine ids", "key", KeyRoutine)
			saveRoutine = true
		}
	} else {
		routine = seedRoutineEntries(seedRoutine)
	}

	s.study = study
	s.routine = routine
	appLog.Info("schedule loaded",
		"study_count", len(study),
		"routine_count", len(routine),
		"seeded_study", !found,
		"seeded_routine", !foundRoutine,
	)

	if saveStudy {
		if err := s.persistStudy(ctx); err != nil {
			return err
		}
	}
	if saveRoutine {
		if err := s.persistRoutine(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AddStudy appends a study entry with id max(existing)+1. subject, time
// and day are all required; time is normalized to "HH:MM" and day to its
// canonical name.
func (s *Store) AddStudy(ctx context.Context, subject, hhmm, day string) (model.StudyEntry, error) {
	e, err := newStudy(subject, hhmm, day)
	if err != nil {
		return model.StudyEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e = s.appendStudy(e)
	return e, s.persistStudy(ctx)
}

// AddRoutine appends a routine entry with id max(existing)+1.
func (s *Store) AddRoutine(ctx context.Context, activity, hhmm string) (model.RoutineEntry, error) {
	e, err := newRoutine(activity, hhmm)
	if err != nil {
		return model.RoutineEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e = s.appendRoutine(e)
	return e, s.persistRoutine(ctx)
}

// appendStudy assigns the next id and appends. Callers hold s.mu.
func (s *Store) appendStudy(e model.StudyEntry) model.StudyEntry {
	e.ID = nextStudyID(s.study)
	s.study = append(s.study, e)
	appLog.Info("study entry added", "id", e.ID, "subject", e.Subject, "time", e.Time, "day", e.Day)
	return e
}

func (s *Store) appendRoutine(e model.RoutineEntry) model.RoutineEntry {
	e.ID = nextRoutineID(s.routine)
	s.routine = append(s.routine, e)
	appLog.Info("routine entry added", "id", e.ID, "activity", e.Activity, "time", e.Time)
	return e
}

func newStudy(subject, hhmm, day string) (model.StudyEntry, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return model.StudyEntry{}, fmt.Errorf("%w: subject is required", ErrInvalidEntry)
	}
	t, err := validTime(hhmm)
	if err != nil {
		return model.StudyEntry{}, err
	}
	if strings.TrimSpace(day) == "" {
		return model.StudyEntry{}, fmt.Errorf("%w: day is required", ErrInvalidEntry)
	}
	dayName, _, ok := model.ParseDay(day)
	if !ok {
		return model.StudyEntry{}, fmt.Errorf("%w: unknown day %q", ErrInvalidEntry, day)
	}
	return model.StudyEntry{Subject: subject, Time: t, Day: dayName}, nil
}

func newRoutine(activity, hhmm string) (model.RoutineEntry, error) {
	activity = strings.TrimSpace(activity)
	if activity == "" {
		return model.RoutineEntry{}, fmt.Errorf("%w: activity is required", ErrInvalidEntry)
	}
	t, err := validTime(hhmm)
	if err != nil {
		return model.RoutineEntry{}, err
	}
	return model.RoutineEntry{Activity: activity, Time: t}, nil
}

// DeleteStudy removes the study entry with the given id. An unknown id is
// a no-op and reports false.
func (s *Store) DeleteStudy(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.study {
		if e.ID != id {
			continue
		}
		s.study = append(s.study[:i:i], s.study[i+1:]...)
		appLog.Info("study entry deleted", "id", id)
		return true, s.persistStudy(ctx)
	}
	appLog.Debug("study delete: id not found", "id", id)
	return false, nil
}

// DeleteRoutine removes the routine entry with the given id.
func (s *Store) DeleteRoutine(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.routine {
		if e.ID != id {
			continue
		}
		s.routine = append(s.routine[:i:i], s.routine[i+1:]...)
		appLog.Info("routine entry deleted", "id", id)
		return true, s.persistRoutine(ctx)
	}
	appLog.Debug("routine delete: id not found", "id", id)
	return false, nil
}

// Study returns a copy of the study collection in stored order.
func (s *Store) Study() []model.StudyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.StudyEntry(nil), s.study...)
}

// Routine returns a copy of the routine collection in stored order.
func (s *Store) Routine() []model.RoutineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RoutineEntry(nil), s.routine...)
}

// StudyByDay returns the study entries scheduled on day, in stored order.
func (s *Store) StudyByDay(day string) []model.StudyEntry {
	name, _, ok := model.ParseDay(day)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.StudyEntry
	for _, e := range s.study {
		if e.Day == name {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot returns both collections as of a single instant.
func (s *Store) Snapshot() ([]model.StudyEntry, []model.RoutineEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.StudyEntry(nil), s.study...),
		append([]model.RoutineEntry(nil), s.routine...)
}

func validTime(hhmm string) (string, error) {
	if strings.TrimSpace(hhmm) == "" {
		return "", fmt.Errorf("%w: time is required", ErrInvalidEntry)
	}
	t, ok := model.CanonicalTime(hhmm)
	if !ok {
		return "", fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidEntry, hhmm)
	}
	return t, nil
}

func nextStudyID(entries []model.StudyEntry) int {
	maxID := 0
	for _, e := range entries {
		maxID = max(maxID, e.ID)
	}
	return maxID + 1
}

func nextRoutineID(entries []model.RoutineEntry) int {
	maxID := 0
	for _, e := range entries {
		maxID = max(maxID, e.ID)
	}
	return maxID + 1
}

// seedStudyEntries copies seed, canonicalizing fields. Entries that fail
// validation are skipped; ids are made unique with uniqueIDs.
func seedStudyEntries(seed []model.StudyEntry) []model.StudyEntry {
	out := make([]model.StudyEntry, 0, len(seed))
	for _, in := range seed {
		e, err := newStudy(in.Subject, in.Time, in.Day)
		if err != nil {
			appLog.Warn("skipping invalid seed study entry", "subject", in.Subject, "time", in.Time, "day", in.Day)
			continue
		}
		e.ID = in.ID
		out = append(out, e)
	}
	uniqueIDs(out, studyID)
	return out
}

func seedRoutineEntries(seed []model.RoutineEntry) []model.RoutineEntry {
	out := make([]model.RoutineEntry, 0, len(seed))
	for _, in := range seed {
		e, err := newRoutine(in.Activity, in.Time)
		if err != nil {
			appLog.Warn("skipping invalid seed routine entry", "activity", in.Activity, "time", in.Time)
			continue
		}
		e.ID = in.ID
		out = append(out, e)
	}
	uniqueIDs(out, routineID)
	return out
}

func studyID(e *model.StudyEntry) *int     { return &e.ID }
func routineID(e *model.RoutineEntry) *int { return &e.ID }

// uniqueIDs keeps the first use of each positive id. Entries with no id,
// or with one already taken, get max+1 in stored order. It reports
// whether any id changed.
func uniqueIDs[T any](entries []T, id func(*T) *int) bool {
	used := make(map[int]bool, len(entries))
	maxID := 0
	var remint []int
	for i := range entries {
		p := id(&entries[i])
		if *p > 0 && !used[*p] {
			used[*p] = true
			maxID = max(maxID, *p)
			continue
		}
		remint = append(remint, i)
	}
	for _, i := range remint {
		maxID++
		*id(&entries[i]) = maxID
	}
	return len(remint) > 0
}

func (s *Store) persistStudy(ctx context.Context) error {
	return saveJSON(ctx, s.kv, KeyStudy, s.study)
}

func (s *Store) persistRoutine(ctx context.Context) error {
	return saveJSON(ctx, s.kv, KeyRoutine, s.routine)
}

func loadJSON[T any](ctx context.Context, kv KV, key string) ([]T, bool, error) {
	if kv == nil {
		return nil, false, nil
	}
	data, found, err := kv.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("store: load %s: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return out, true, nil
}

func saveJSON[T any](ctx context.Context, kv KV, key string, v []T) error {
	if kv == nil {
		return nil
	}
	if v == nil {
		v = []T{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := kv.Put(ctx, key, data); err != nil {
		appLog.Error("schedule persist failed", err, "key", key)
		return fmt.Errorf("store: save %s: %w", key, err)
	}
	return nil
}
