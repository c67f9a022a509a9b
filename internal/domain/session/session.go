// Package session holds the per-session state of the encounter workflow:
// the patient identity, the append-only artifact store, the extracted
// report context and the question transcript. Sessions are created at the
// start of an interaction, live in memory only, and are discarded on End —
// nothing survives the process.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/consulta/consulta/internal/domain/artifact"
)

// ErrNotFound is returned for an unknown or already-ended session.
var ErrNotFound = errors.New("session not found")

// QATurn is one question/answer pair from the document chat.
type QATurn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Session is the explicit context object passed into every workflow call.
// It replaces what would otherwise be ambient global state.
type Session struct {
	ID        uuid.UUID                `json:"id"`
	Patient   artifact.PatientIdentity `json:"patient"`
	CreatedAt time.Time                `json:"created_at"`

	// interact serializes workflow interactions: at most one submit,
	// render or deliver runs at a time for a session.
	interact sync.Mutex

	mu         sync.RWMutex
	store      *artifact.Store
	reportText string
	transcript []QATurn
}

// Lock acquires the session's interaction lock.
func (s *Session) Lock() { s.interact.Lock() }

// Unlock releases the session's interaction lock.
func (s *Session) Unlock() { s.interact.Unlock() }

// Store returns the session's encounter store.
func (s *Session) Store() *artifact.Store {
	return s.store
}

// ReportText returns the extracted text of the last uploaded report, or "".
func (s *Session) ReportText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reportText
}

// SetReportText replaces the session's report context. Called only when a
// new document is uploaded.
func (s *Session) SetReportText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportText = text
}

// AddTurn appends a question/answer pair to the transcript.
func (s *Session) AddTurn(turn QATurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, turn)
}

// Transcript returns the question transcript newest first.
func (s *Session) Transcript() []QATurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]QATurn, len(s.transcript))
	for i, turn := range s.transcript {
		out[len(s.transcript)-1-i] = turn
	}
	return out
}

// Manager tracks live sessions by ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[uuid.UUID]*Session)}
}

// Create starts a session for the given patient identity. The identity is
// immutable for the session's lifetime.
func (m *Manager) Create(patient artifact.PatientIdentity) *Session {
	s := &Session{
		ID:        uuid.New(),
		Patient:   patient,
		CreatedAt: time.Now().UTC(),
		store:     artifact.NewStore(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with the given ID.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// End discards a session and all its state.
func (m *Manager) End(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}
