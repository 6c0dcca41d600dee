package throws

import (
	"context"
	"sync"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
)

// MemoryStore is a Repository that lives for the process only.
type MemoryStore struct {
	mu       sync.Mutex
	throws   []Coordinate
	sessions []Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AddThrow(_ context.Context, c Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throws = append(m.throws, c)
	return nil
}

func (m *MemoryStore) Throws(_ context.Context, t calibration.CircleType) ([]Coordinate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Coordinate(nil), ForCircle(m.throws, t)...), nil
}

func (m *MemoryStore) ClearThrows(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.throws)
	m.throws = nil
	return n, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s.clone())
	return nil
}

// Sessions returns the saved sessions.
func (m *MemoryStore) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Session(nil), m.sessions...)
}
