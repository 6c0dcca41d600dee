package throws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/log"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

var ErrNoSession = errors.New("no active session")

// Session groups the throws of one circle type measured together.
type Session struct {
	SessionID   string                 `json:"sessionId"`
	CircleType  calibration.CircleType `json:"circleType"`
	StartTime   time.Time              `json:"startTime"`
	EndTime     *time.Time             `json:"endTime,omitempty"`
	Coordinates []Coordinate           `json:"coordinates"`
	Statistics  *Statistics            `json:"statistics,omitempty"`
}

func (s *Session) refresh() {
	if st, ok := Compute(s.Coordinates); ok {
		s.Statistics = &st
	}
}

func (s Session) clone() Session {
	s.Coordinates = append([]Coordinate(nil), s.Coordinates...)
	if s.Statistics != nil {
		st := *s.Statistics
		s.Statistics = &st
	}
	return s
}

// Tracker records throws into a repository and keeps the current session.
type Tracker struct {
	repo  Repository
	clock timeutil.Clock

	mu      sync.Mutex
	current *Session
}

func NewTracker(repo Repository, clock timeutil.Clock) *Tracker {
	return &Tracker{repo: repo, clock: clock}
}

// Record stores c and adds it to the current session when the circle types match.
func (t *Tracker) Record(ctx context.Context, c Coordinate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && t.current.CircleType == c.CircleType {
		c.SessionID = t.current.SessionID
	}
	if err := t.repo.AddThrow(ctx, c); err != nil {
		return fmt.Errorf("failed to store throw: %w", err)
	}
	if c.SessionID != "" {
		t.current.Coordinates = append(t.current.Coordinates, c)
		t.current.refresh()
	}
	log.Logger.Info("stored throw coordinate",
		log.Float64("x", c.X), log.Float64("y", c.Y),
		log.String("circle", string(c.CircleType)), log.Float64("distance", c.Distance))
	return nil
}

// StartSession ends any current session and opens a new one.
func (t *Tracker) StartSession(ctx context.Context, circleType calibration.CircleType) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		if err := t.endLocked(ctx); err != nil {
			return Session{}, err
		}
	}
	t.current = &Session{
		SessionID:   uuid.NewString(),
		CircleType:  circleType,
		StartTime:   t.clock.Now().UTC(),
		Coordinates: []Coordinate{},
	}
	log.Logger.Info("started throw session",
		log.String("session", t.current.SessionID), log.String("circle", string(circleType)))
	return t.current.clone(), nil
}

// EndSession closes and saves the current session.
func (t *Tracker) EndSession(ctx context.Context) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Session{}, ErrNoSession
	}
	cur := t.current
	if err := t.endLocked(ctx); err != nil {
		return Session{}, err
	}
	return cur.clone(), nil
}

func (t *Tracker) endLocked(ctx context.Context) error {
	now := t.clock.Now().UTC()
	t.current.EndTime = &now
	t.current.refresh()
	if err := t.repo.SaveSession(ctx, *t.current); err != nil {
		return fmt.Errorf("failed to save session %s: %w", t.current.SessionID, err)
	}
	log.Logger.Info("ended throw session",
		log.String("session", t.current.SessionID), log.Int("throws", len(t.current.Coordinates)))
	t.current = nil
	return nil
}

// Current returns a copy of the active session.
func (t *Tracker) Current() (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Session{}, ErrNoSession
	}
	return t.current.clone(), nil
}

// Clear removes every stored throw and drops the current session unsaved.
func (t *Tracker) Clear(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.repo.ClearThrows(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear throws: %w", err)
	}
	t.current = nil
	log.Logger.Info("cleared stored throw coordinates", log.Int("count", n))
	return n, nil
}

func (t *Tracker) Throws(ctx context.Context, circleType calibration.CircleType) ([]Coordinate, error) {
	return t.repo.Throws(ctx, circleType)
}

// Statistics summarises every stored throw of a circle type.
func (t *Tracker) Statistics(ctx context.Context, circleType calibration.CircleType) (Statistics, error) {
	coords, err := t.repo.Throws(ctx, circleType)
	if err != nil {
		return Statistics{}, err
	}
	s, ok := Compute(coords)
	if !ok {
		return Statistics{}, fmt.Errorf("no throws found for %s", circleType)
	}
	return s, nil
}
