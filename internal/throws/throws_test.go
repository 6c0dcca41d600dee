package throws

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

var epoch = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestCompute(t *testing.T) {
	_, ok := Compute(nil)
	assert.False(t, ok)

	s, ok := Compute([]Coordinate{
		{X: 10, Y: 0, Distance: 8.9},
		{X: 12, Y: 2, Distance: 11.1},
		{X: 14, Y: -2, Distance: 13.2},
	})
	require.True(t, ok)
	assert.Equal(t, 3, s.TotalThrows)
	assert.InDelta(t, 12.0, s.AverageX, 1e-9)
	assert.InDelta(t, 0.0, s.AverageY, 1e-9)
	assert.Equal(t, 13.2, s.MaxDistance)
	assert.Equal(t, 8.9, s.MinDistance)
	assert.InDelta(t, 11.0666667, s.AverageDistance, 1e-6)
	// squared offsets 4, 4, 8 -> mean 16/3
	assert.InDelta(t, math.Sqrt(16.0/3.0), s.SpreadRadius, 1e-9)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []Coordinate{{
		X: 1.5, Y: -2.25, Distance: 10.1234, CircleType: calibration.Shot,
		Timestamp: epoch, AthleteID: "101", Round: "R1", EDMReading: "12000 90.000000 45.000000",
	}})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"1.500000", "-2.250000", "10.123", "SHOT", "2025-06-01T10:00:00.000Z", "101", "R1", "12000 90.000000 45.000000"}, rows[1])
}

func TestTrackerSessions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore()
	tr := NewTracker(repo, timeutil.NewMockClock(epoch))

	_, err := tr.Current()
	assert.ErrorIs(t, err, ErrNoSession)

	s, err := tr.StartSession(ctx, calibration.Discus)
	require.NoError(t, err)
	assert.NotEmpty(t, s.SessionID)

	require.NoError(t, tr.Record(ctx, Coordinate{X: 40, CircleType: calibration.Discus, Distance: 38.75}))
	require.NoError(t, tr.Record(ctx, Coordinate{X: 12, CircleType: calibration.Shot, Distance: 10.9}))
	require.NoError(t, tr.Record(ctx, Coordinate{X: 44, Y: 2, CircleType: calibration.Discus, Distance: 42.8}))

	cur, err := tr.Current()
	require.NoError(t, err)
	assert.Len(t, cur.Coordinates, 2)
	require.NotNil(t, cur.Statistics)
	assert.Equal(t, 2, cur.Statistics.TotalThrows)

	ended, err := tr.EndSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, ended.EndTime)
	assert.Equal(t, s.SessionID, ended.SessionID)
	assert.Len(t, repo.Sessions(), 1)

	_, err = tr.EndSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	all, err := tr.Throws(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, s.SessionID, all[0].SessionID)
	assert.Empty(t, all[1].SessionID)

	st, err := tr.Statistics(ctx, calibration.Discus)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalThrows)
	_, err = tr.Statistics(ctx, calibration.Hammer)
	assert.Error(t, err)
}

func TestTrackerStartEndsPrevious(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore()
	tr := NewTracker(repo, timeutil.NewMockClock(epoch))

	first, err := tr.StartSession(ctx, calibration.Shot)
	require.NoError(t, err)
	second, err := tr.StartSession(ctx, calibration.Shot)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	require.Len(t, repo.Sessions(), 1)
	assert.Equal(t, first.SessionID, repo.Sessions()[0].SessionID)
}

func TestTrackerClear(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore(), timeutil.NewMockClock(epoch))
	_, err := tr.StartSession(ctx, calibration.Shot)
	require.NoError(t, err)
	require.NoError(t, tr.Record(ctx, Coordinate{CircleType: calibration.Shot}))

	n, err := tr.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = tr.Current()
	assert.ErrorIs(t, err, ErrNoSession)
}

type failingRepo struct{ MemoryStore }

func (f *failingRepo) AddThrow(context.Context, Coordinate) error { return errors.New("disk full") }

func TestTrackerRecordError(t *testing.T) {
	tr := NewTracker(&failingRepo{}, timeutil.NewMockClock(epoch))
	err := tr.Record(context.Background(), Coordinate{})
	assert.ErrorContains(t, err, "disk full")
}
