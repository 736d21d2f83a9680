package store

import (
	"context"
	"errors"

	"studybell/internal/model"
)

// MergeResult reports what Merge did with each incoming entry.
type MergeResult struct {
	Study     []model.StudyEntry   `json:"study"`
	Routine   []model.RoutineEntry `json:"routine"`
	Duplicate int                  `json:"duplicate"`
	Invalid   int                  `json:"invalid"`
}

// Merge adds entries that are not already present. Incoming IDs are
// ignored. An entry equal to an existing one in every field but ID counts
// as a duplicate; an entry failing validation counts as invalid. The
// whole merge holds the write lock, so concurrent merges of the same feed
// never both add an entry. Each changed collection is persisted once and
// the first persistence error is returned.
func (s *Store) Merge(ctx context.Context, study []model.StudyEntry, routine []model.RoutineEntry) (MergeResult, error) {
	var res MergeResult
	invalid := func(err error) bool {
		if errors.Is(err, ErrInvalidEntry) {
			res.Invalid++
			return true
		}
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range study {
		e, err := newStudy(in.Subject, in.Time, in.Day)
		if invalid(err) {
			continue
		}
		if containsStudy(s.study, e) {
			res.Duplicate++
			continue
		}
		res.Study = append(res.Study, s.appendStudy(e))
	}
	for _, in := range routine {
		e, err := newRoutine(in.Activity, in.Time)
		if invalid(err) {
			continue
		}
		if containsRoutine(s.routine, e) {
			res.Duplicate++
			continue
		}
		res.Routine = append(res.Routine, s.appendRoutine(e))
	}

	// The entries stay in memory even when saving fails.
	var errs []error
	if len(res.Study) > 0 {
		errs = append(errs, s.persistStudy(ctx))
	}
	if len(res.Routine) > 0 {
		errs = append(errs, s.persistRoutine(ctx))
	}
	for _, err := range errs {
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// containsStudy compares canonical fields; e must come from newStudy.
func containsStudy(entries []model.StudyEntry, e model.StudyEntry) bool {
	for _, x := range entries {
		if x.Subject == e.Subject && x.Time == e.Time && x.Day == e.Day {
			return true
		}
	}
	return false
}

func containsRoutine(entries []model.RoutineEntry, e model.RoutineEntry) bool {
	for _, x := range entries {
		if x.Activity == e.Activity && x.Time == e.Time {
			return true
		}
	}
	return false
}
