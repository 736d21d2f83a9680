package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"studybell/internal/model"
)

type memKV struct {
	data    map[string][]byte
	puts    int
	failPut error
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.puts++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func TestAddStudyAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	for i, subject := range []string{"Math", "Physics", "Biology"} {
		e, err := s.AddStudy(ctx, subject, "09:00", "Monday")
		if err != nil {
			t.Fatal(err)
		}
		if got, want := e.ID, i+1; got != want {
			t.Errorf("wrong id for %s\ngot:  %d\nwant: %d", subject, got, want)
		}
	}
}

func TestDeleteThenAddUsesMaxRemainingID(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	for _, a := range []string{"A", "B", "C"} {
		if _, err := s.AddRoutine(ctx, a, "07:00"); err != nil {
			t.Fatal(err)
		}
	}

	if ok, _ := s.DeleteRoutine(ctx, 2); !ok {
		t.Fatal("expected delete of id 2")
	}
	e, err := s.AddRoutine(ctx, "D", "08:00")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != 4 {
		t.Errorf("expected id 4 after deleting a middle entry, got %d", e.ID)
	}

	if ok, _ := s.DeleteRoutine(ctx, 4); !ok {
		t.Fatal("expected delete of id 4")
	}
	if ok, _ := s.DeleteRoutine(ctx, 3); !ok {
		t.Fatal("expected delete of id 3")
	}
	e, _ = s.AddRoutine(ctx, "E", "08:00")
	if e.ID != 2 {
		t.Errorf("expected id 2 (max remaining 1 + 1), got %d", e.ID)
	}
}

func TestDeleteUnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	s := New(kv)
	if _, err := s.AddStudy(ctx, "Math", "09:00", "Monday"); err != nil {
		t.Fatal(err)
	}
	puts := kv.puts

	ok, err := s.DeleteStudy(ctx, 99)
	if ok || err != nil {
		t.Errorf("DeleteStudy(99) = %v, %v", ok, err)
	}
	if got := len(s.Study()); got != 1 {
		t.Errorf("collection changed: len %d", got)
	}
	if kv.puts != puts {
		t.Error("no-op delete should not persist")
	}
}

func TestAddRejectsMissingFields(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	tests := []struct {
		name               string
		subject, time, day string
		wantField          string
	}{
		{"empty subject", "", "09:00", "Monday", "subject"},
		{"blank subject", "   ", "09:00", "Monday", "subject"},
		{"empty time", "Math", "", "Monday", "time"},
		{"bad time", "Math", "9am", "Monday", "time"},
		{"empty day", "Math", "09:00", "", "day"},
		{"unknown day", "Math", "09:00", "Someday", "day"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddStudy(ctx, tt.subject, tt.time, tt.day)
			if !errors.Is(err, ErrInvalidEntry) {
				t.Fatalf("expected ErrInvalidEntry, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("error %q does not name %s", err, tt.wantField)
			}
		})
	}
	if got := len(s.Study()); got != 0 {
		t.Errorf("rejected adds created %d entries", got)
	}

	if _, err := s.AddRoutine(ctx, "", "22:30"); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("expected routine without activity to be rejected, got %v", err)
	}
	if got := len(s.Routine()); got != 0 {
		t.Errorf("rejected routine add created %d entries", got)
	}
}

func TestAddNormalizesFields(t *testing.T) {
	s := New(nil)
	e, err := s.AddStudy(context.Background(), " Math ", "9:00", "monday")
	if err != nil {
		t.Fatal(err)
	}
	want := model.StudyEntry{ID: 1, Subject: "Math", Time: "09:00", Day: "Monday"}
	if e != want {
		t.Errorf("wrong entry\ngot:  %+v\nwant: %+v", e, want)
	}
}

func TestLoadSeedsAndPersistsOnFirstRun(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	s := New(kv)

	err := s.Load(ctx,
		[]model.StudyEntry{{Subject: "Math", Time: "09:00", Day: "Monday"}, {Subject: "", Time: "10:00", Day: "Monday"}},
		[]model.RoutineEntry{{Activity: "Sleep", Time: "22:30"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.Study()); got != 1 {
		t.Errorf("expected invalid seed to be skipped, got %d study entries", got)
	}
	if _, ok := kv.data[KeyStudy]; !ok {
		t.Error("seeded study collection not persisted")
	}
	if _, ok := kv.data[KeyRoutine]; !ok {
		t.Error("seeded routine collection not persisted")
	}

	// Second start: persisted data wins over seed.
	if _, err := s.AddRoutine(ctx, "Breakfast", "07:00"); err != nil {
		t.Fatal(err)
	}
	reloaded := New(kv)
	if err := reloaded.Load(ctx, nil, nil); err != nil {
		t.Fatal(err)
	}
	routine := reloaded.Routine()
	if len(routine) != 2 || routine[1].Activity != "Breakfast" || routine[1].ID != 2 {
		t.Errorf("reloaded routine = %+v", routine)
	}
}

func TestPersistFailureKeepsInMemoryChange(t *testing.T) {
	kv := newMemKV()
	kv.failPut = errors.New("disk full")
	s := New(kv)

	e, err := s.AddRoutine(context.Background(), "Sleep", "22:30")
	if err == nil {
		t.Fatal("expected persist error")
	}
	if errors.Is(err, ErrInvalidEntry) {
		t.Error("persist failure must not look like a validation error")
	}
	if e.ID != 1 || len(s.Routine()) != 1 {
		t.Errorf("in-memory add lost: %+v", s.Routine())
	}
}

func TestStudyByDayKeepsStoredOrder(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	s.AddStudy(ctx, "Physics", "11:00", "Tuesday")
	s.AddStudy(ctx, "Chemistry", "08:00", "Tuesday")
	s.AddStudy(ctx, "Math", "09:00", "Monday")

	got := s.StudyByDay("tuesday")
	if len(got) != 2 || got[0].Subject != "Physics" || got[1].Subject != "Chemistry" {
		t.Errorf("StudyByDay(tuesday) = %+v", got)
	}
	if got := s.StudyByDay("nope"); got != nil {
		t.Errorf("unknown day returned %+v", got)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	s.AddStudy(ctx, "Math", "09:00", "Monday")

	study, _ := s.Snapshot()
	s.DeleteStudy(ctx, 1)

	if len(study) != 1 || study[0].Subject != "Math" {
		t.Errorf("snapshot mutated by later delete: %+v", study)
	}
}

func TestMergeSkipsDuplicatesAndInvalid(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	s := New(kv)
	if _, err := s.AddStudy(ctx, "Math", "09:00", "Monday"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Merge(ctx,
		[]model.StudyEntry{
			{ID: 40, Subject: "Math", Time: "9:00", Day: "monday"},
			{ID: 41, Subject: "Chemistry", Time: "16:00", Day: "Wednesday"},
			{Subject: "Nothing", Time: "", Day: "Friday"},
		},
		[]model.RoutineEntry{
			{Activity: "Water", Time: "10:00"},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate != 1 || res.Invalid != 1 {
		t.Errorf("duplicate=%d invalid=%d, want 1 and 1", res.Duplicate, res.Invalid)
	}
	if len(res.Study) != 1 || res.Study[0].ID != 2 || res.Study[0].Subject != "Chemistry" {
		t.Errorf("added study = %+v", res.Study)
	}
	if len(res.Routine) != 1 || res.Routine[0].ID != 1 {
		t.Errorf("added routine = %+v", res.Routine)
	}

	again, err := s.Merge(ctx, []model.StudyEntry{{Subject: "Chemistry", Time: "16:00", Day: "Wednesday"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.Duplicate != 1 || len(again.Study) != 0 {
		t.Errorf("re-merge = %+v", again)
	}
}

func TestLoadMakesSeedIDsUnique(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	err := s.Load(ctx,
		[]model.StudyEntry{
			{Subject: "Chemistry", Time: "16:00", Day: "Wednesday"},
			{ID: 1, Subject: "Math", Time: "09:00", Day: "Monday"},
		},
		[]model.RoutineEntry{
			{ID: 2, Activity: "Breakfast", Time: "07:00"},
			{ID: 2, Activity: "Sleep", Time: "22:30"},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	study, routine := s.Snapshot()
	wantStudy := []model.StudyEntry{
		{ID: 2, Subject: "Chemistry", Time: "16:00", Day: "Wednesday"},
		{ID: 1, Subject: "Math", Time: "09:00", Day: "Monday"},
	}
	for i := range wantStudy {
		if study[i] != wantStudy[i] {
			t.Errorf("study[%d]\ngot:  %+v\nwant: %+v", i, study[i], wantStudy[i])
		}
	}
	if routine[0].ID != 2 || routine[1].ID != 3 {
		t.Errorf("routine ids = %d, %d, want 2, 3", routine[0].ID, routine[1].ID)
	}

	if found, _ := s.DeleteStudy(ctx, 1); !found {
		t.Fatal("DeleteStudy(1) found nothing")
	}
	if study := s.Study(); len(study) != 1 || study[0].Subject != "Chemistry" {
		t.Errorf("after DeleteStudy(1) = %+v", study)
	}
}

func TestLoadRepairsDuplicateStoredIDs(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	data, err := json.Marshal([]model.RoutineEntry{
		{ID: 1, Activity: "Breakfast", Time: "07:00"},
		{ID: 1, Activity: "Sleep", Time: "22:30"},
	})
	if err != nil {
		t.Fatal(err)
	}
	kv.data[KeyRoutine] = data

	s := New(kv)
	if err := s.Load(ctx, nil, nil); err != nil {
		t.Fatal(err)
	}
	routine := s.Routine()
	if len(routine) != 2 || routine[0].ID != 1 || routine[1].ID != 2 {
		t.Fatalf("routine = %+v", routine)
	}

	var saved []model.RoutineEntry
	if err := json.Unmarshal(kv.data[KeyRoutine], &saved); err != nil {
		t.Fatal(err)
	}
	if len(saved) != 2 || saved[1].ID != 2 {
		t.Errorf("repaired ids not persisted: %+v", saved)
	}
}

func TestConcurrentMergesAddOnce(t *testing.T) {
	ctx := context.Background()
	s := New(newMemKV())
	feed := []model.RoutineEntry{{Activity: "Water", Time: "10:00"}}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Merge(ctx, nil, feed); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := len(s.Routine()); got != 1 {
		t.Errorf("routine count = %d, want 1", got)
	}
}
