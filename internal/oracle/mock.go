package oracle

import (
	"context"
	"fmt"
)

// MockScorer replays a scripted sequence of reviews. The offline
// counterpart to VisionScorer for tests and dry runs.
type MockScorer struct {
	Reviews []Review
	Errs    []error

	calls int
}

func (s *MockScorer) Name() string { return "mock" }

func (s *MockScorer) Score(_ context.Context, _ Screenshot) (*Review, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.Errs) && s.Errs[idx] != nil {
		return nil, s.Errs[idx]
	}
	if idx >= len(s.Reviews) {
		return nil, fmt.Errorf("mock scorer exhausted after %d calls", idx)
	}
	review := s.Reviews[idx]
	return &review, nil
}

// Calls reports how many times Score was invoked. Intended for tests.
func (s *MockScorer) Calls() int {
	return s.calls
}
