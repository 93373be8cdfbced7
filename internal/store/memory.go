package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/reena96/bmax-adgenie-563362/internal/model"
)

// MemoryStore is a map-backed JobStore used when Redis is not
// configured and as the test double. Records are deep-copied through
// JSON so callers never share mutable state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string][]byte
	versions map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func (s *MemoryStore) Save(_ context.Context, job *model.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.versions[job.ID] != job.Version {
		return ErrVersionConflict
	}

	next := job.Version + 1
	clone := *job
	clone.Version = next
	data, err := json.Marshal(&clone)
	if err != nil {
		return err
	}
	s.jobs[job.ID] = data
	s.versions[job.ID] = next
	job.Version = next
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*model.GenerationJob, error) {
	s.mu.RLock()
	data, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	var job model.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	delete(s.jobs, jobID)
	delete(s.versions, jobID)
	s.mu.Unlock()
	return nil
}
