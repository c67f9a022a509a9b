package artifact

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the append-only encounter log for one session. Artifacts are
// never removed or mutated after creation and retrieval never reorders.
// Multiple artifacts of the same kind are allowed; they represent
// successive visits.
type Store struct {
	mu        sync.RWMutex
	artifacts []EncounterArtifact
}

// NewStore creates an empty encounter store.
func NewStore() *Store {
	return &Store{}
}

// Append records a new artifact, assigning its ID and creation time if they
// are unset, and returns the stored copy.
func (s *Store) Append(a EncounterArtifact) EncounterArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.artifacts = append(s.artifacts, a)
	return a
}

// MostRecent returns the last-appended artifact of the given kind, scanning
// backward through insertion order.
func (s *Store) MostRecent(kind Kind) (EncounterArtifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.artifacts) - 1; i >= 0; i-- {
		if s.artifacts[i].Kind == kind {
			return s.artifacts[i], true
		}
	}
	return EncounterArtifact{}, false
}

// Get returns the artifact with the given ID.
func (s *Store) Get(id uuid.UUID) (EncounterArtifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.artifacts {
		if s.artifacts[i].ID == id {
			return s.artifacts[i], true
		}
	}
	return EncounterArtifact{}, false
}

// History returns all artifacts newest first. The result is a copy; later
// appends do not affect it.
func (s *Store) History() []EncounterArtifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EncounterArtifact, len(s.artifacts))
	for i, a := range s.artifacts {
		out[len(s.artifacts)-1-i] = a
	}
	return out
}

// Len returns the number of stored artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}
