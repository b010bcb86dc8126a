package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-process Store for tests and single-shot runs.
type MemStore struct {
	mu       sync.RWMutex
	records  map[string][]Record
	rejected map[string]string
}

// NewMemStore returns an empty in-memory outcome store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[string][]Record),
		rejected: make(map[string]string),
	}
}

func tripleKey(file string, line int, operation string) string {
	return fmt.Sprintf("%s\x00%d\x00%s", file, line, operation)
}

func (s *MemStore) Record(_ context.Context, rec Record) error {
	if rec.File == "" || rec.Line <= 0 || rec.Operation == "" {
		return fmt.Errorf("record requires file, positive line, and operation")
	}
	if rec.RecordedAt == "" {
		rec.RecordedAt = time.Now().UTC().Format(time.RFC3339)
	}
	key := tripleKey(rec.File, rec.Line, rec.Operation)
	s.mu.Lock()
	s.records[key] = append(s.records[key], rec)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Failed(_ context.Context, file string, line int, operation string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records[tripleKey(file, line, operation)] {
		if rec.Result == ResultSkippedMismatch || rec.Result == ResultSkippedNotFound {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) Rejected(_ context.Context, file string, line int, operation string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rejected[tripleKey(file, line, operation)]
	return ok, nil
}

func (s *MemStore) MarkRejected(_ context.Context, file string, line int, operation string, note string) error {
	if file == "" || line <= 0 || operation == "" {
		return fmt.Errorf("rejection requires file, positive line, and operation")
	}
	s.mu.Lock()
	s.rejected[tripleKey(file, line, operation)] = note
	s.mu.Unlock()
	return nil
}

// Len reports the number of recorded attempts. Intended for tests.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}

func (s *MemStore) Close() error {
	return nil
}
