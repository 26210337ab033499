package api

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRunLimit bounds how many runs the store keeps.
const DefaultRunLimit = 256

// RunStore keeps recent runs in memory, oldest evicted first.
type RunStore struct {
	mu    sync.Mutex
	limit int
	runs  map[string]*Run
	order []string
}

func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	return &RunStore{limit: limit, runs: make(map[string]*Run)}
}

// Create assigns an id and timestamp to run and stores it.
func (s *RunStore) Create(run Run, now time.Time) Run {
	run.ID = newRunID()
	run.Object = "run"
	run.CreatedAt = now.Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = &run
	s.order = append(s.order, run.ID)
	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return run
}

func (s *RunStore) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// List returns runs newest first.
func (s *RunStore) List() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.order))
	for _, id := range slices.Backward(s.order) {
		out = append(out, *s.runs[id])
	}
	return out
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return true
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
