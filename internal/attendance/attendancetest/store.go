// Package attendancetest provides an in-memory attendance.Store for tests.
package attendancetest

import (
	"context"
	"sync"

	"attendance-portal/internal/attendance"
)

// Store mirrors the Postgres repository: one record per coordinate, and
// Replace/ReplaceSlot either apply fully or not at all.
type Store struct {
	mu      sync.Mutex
	records map[attendance.Coordinate]attendance.Record

	// Err, when set, is returned by every call.
	Err error
	// FailWrites makes mutations fail while reads keep working.
	FailWrites error
	// Calls counts mutations, keyed by method name.
	Calls map[string]int
}

func New(seed ...attendance.Record) *Store {
	s := &Store{records: make(map[attendance.Coordinate]attendance.Record), Calls: make(map[string]int)}
	for _, r := range seed {
		s.records[r.Coordinate()] = r
	}
	return s
}

// All returns a sorted snapshot of every stored record.
func (s *Store) All() []attendance.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]attendance.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	attendance.SortRecords(out)
	return out
}

func (s *Store) List(_ context.Context, f attendance.Filter) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []attendance.Record
	for _, r := range s.records {
		if matches(r, f) {
			out = append(out, r)
		}
	}
	attendance.SortRecords(out)
	return out, nil
}

func (s *Store) GetByIDs(_ context.Context, ids []string) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	want := toSet(ids)
	var out []attendance.Record
	for _, r := range s.records {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	attendance.SortRecords(out)
	return out, nil
}

func (s *Store) Upsert(_ context.Context, records []attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("Upsert"); err != nil {
		return err
	}
	s.upsert(records)
	return nil
}

func (s *Store) DeleteByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("DeleteByIDs"); err != nil {
		return err
	}
	s.deleteIDs(ids)
	return nil
}

func (s *Store) DeleteForOverwrite(_ context.Context, key attendance.OverwriteKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("DeleteForOverwrite"); err != nil {
		return err
	}
	s.deleteKey(key)
	return nil
}

func (s *Store) Replace(_ context.Context, ids []string, records []attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("Replace"); err != nil {
		return err
	}
	s.deleteIDs(ids)
	s.upsert(records)
	return nil
}

func (s *Store) ReplaceSlot(_ context.Context, key attendance.OverwriteKey, records []attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr("ReplaceSlot"); err != nil {
		return err
	}
	s.deleteKey(key)
	s.upsert(records)
	return nil
}

func (s *Store) writeErr(method string) error {
	s.Calls[method]++
	if s.Err != nil {
		return s.Err
	}
	return s.FailWrites
}

func (s *Store) upsert(records []attendance.Record) {
	for _, r := range records {
		s.records[r.Coordinate()] = r
	}
}

func (s *Store) deleteIDs(ids []string) {
	want := toSet(ids)
	for c, r := range s.records {
		if want[r.ID] {
			delete(s.records, c)
		}
	}
}

func (s *Store) deleteKey(key attendance.OverwriteKey) {
	for c, r := range s.records {
		if key.Matches(r) {
			delete(s.records, c)
		}
	}
}

func matches(r attendance.Record, f attendance.Filter) bool {
	switch {
	case f.BranchID != "" && r.BranchID != f.BranchID:
		return false
	case f.BatchID != "" && f.BatchID != "ALL" && r.BatchID != f.BatchID:
		return false
	case f.SubjectID != "" && r.SubjectID != f.SubjectID:
		return false
	case f.StudentID != "" && r.StudentID != f.StudentID:
		return false
	case f.Date != "" && r.Date != f.Date:
		return false
	case f.From != "" && r.Date < f.From:
		return false
	case f.To != "" && r.Date > f.To:
		return false
	}
	return true
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
