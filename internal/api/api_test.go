package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/device"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

func newTestServer(t *testing.T, demo bool) (http.Handler, *device.Service) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC))
	tracker := throws.NewTracker(throws.NewMemoryStore(), clock)
	svc := device.NewService(tracker, device.WithClock(clock), device.WithSeed(11), device.WithDemoMode(demo))
	t.Cleanup(func() { _ = svc.Close() })
	return NewServer(svc, WithTracker(tracker)).Handler(), svc
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, true)
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDemoMeasurementFlow(t *testing.T) {
	h, _ := newTestServer(t, true)

	rec := do(t, h, http.MethodGet, "/api/v1/devices/edm/calibration", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	def := decode[calibration.Record](t, rec)
	assert.Equal(t, calibration.Shot, def.SelectedCircleType)
	assert.False(t, def.IsCentreSet)

	rec = do(t, h, http.MethodPost, "/api/v1/devices/edm/centre", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[calibration.Record](t, rec).IsCentreSet)

	rec = do(t, h, http.MethodPost, "/api/v1/devices/edm/edge", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edge := decode[calibration.Record](t, rec)
	require.NotNil(t, edge.EdgeVerificationResult)
	assert.Equal(t, 5.0, edge.EdgeVerificationResult.ToleranceAppliedMm)

	rec = do(t, h, http.MethodPost, "/api/v1/devices/edm/read?context=edge_measurement", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, strings.Fields(decode[ValueResponse](t, rec).Value), 3)

	rec = do(t, h, http.MethodPost, "/api/v1/devices/edm/throw", backend.ThrowRequest{AthleteID: "101", Round: "1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	thr := decode[backend.Throw](t, rec)
	assert.True(t, strings.HasSuffix(thr.Mark, " m"))
	assert.Equal(t, "101", thr.Coordinate.AthleteID)

	rec = do(t, h, http.MethodPost, "/api/v1/devices/edm/throw", nil)
	require.Equal(t, http.StatusOK, rec.Code, "the throw body is optional")

	rec = do(t, h, http.MethodGet, "/api/v1/throws?circleType=shot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]throws.Coordinate](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/api/v1/heatmap?circleType=SHOT&gridSize=0.5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[heatmap.Data](t, rec)
	assert.Equal(t, 2, d.TotalThrows)
	assert.Equal(t, 0.5, d.GridSize)

	rec = do(t, h, http.MethodGet, "/api/v1/heatmap/png?circleType=SHOT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = do(t, h, http.MethodGet, "/api/v1/throws.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "X,Y,Distance"))

	rec = do(t, h, http.MethodPost, "/api/v1/wind/anemometer", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "wind is measured per device")
	rec = do(t, h, http.MethodPost, "/api/v1/devices/wind/wind", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[ValueResponse](t, rec).Value, " m/s")

	rec = do(t, h, http.MethodDelete, "/api/v1/devices/edm/calibration", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/devices/edm/calibration", nil)
	assert.False(t, decode[calibration.Record](t, rec).IsCentreSet)
}

func TestEmptyHeatmap(t *testing.T) {
	h, _ := newTestServer(t, true)

	rec := do(t, h, http.MethodGet, "/api/v1/heatmap?circleType=DISCUS", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no coordinates found"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/heatmap/svg?circleType=DISCUS", nil)
	require.Equal(t, http.StatusOK, rec.Code, "rendering draws the empty state")
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")

	rec = do(t, h, http.MethodGet, "/api/v1/heatmap/html?circleType=CUSTOM", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "custom circles need a radius")
	rec = do(t, h, http.MethodGet, "/api/v1/heatmap/html?circleType=CUSTOM&radius=3", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/heatmap/gif?circleType=SHOT", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	h, _ := newTestServer(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"edge before centre", http.MethodPost, "/api/v1/devices/edm/edge", nil, http.StatusConflict},
		{"throw before calibration", http.MethodPost, "/api/v1/devices/edm/throw", nil, http.StatusConflict},
		{"check mark before edge", http.MethodPost, "/api/v1/devices/edm/read?context=check_mark", nil, http.StatusConflict},
		{"unknown read context", http.MethodPost, "/api/v1/devices/edm/read?context=throw", nil, http.StatusBadRequest},
		{"unknown circle type", http.MethodGet, "/api/v1/heatmap?circleType=CABER", nil, http.StatusBadRequest},
		{"grid size not offered", http.MethodGet, "/api/v1/heatmap?circleType=SHOT&gridSize=3", nil, http.StatusBadRequest},
		{"grid size not a number", http.MethodGet, "/api/v1/heatmap?circleType=SHOT&gridSize=big", nil, http.StatusBadRequest},
		{"unknown field in throw", http.MethodPost, "/api/v1/devices/edm/throw", map[string]string{"athlete": "1"}, http.StatusBadRequest},
		{
			"impossible calibration", http.MethodPut, "/api/v1/devices/edm/calibration",
			calibration.Record{SelectedCircleType: calibration.Shot, TargetRadius: calibration.UkaRadiusShot,
				EdgeVerificationResult: &calibration.Verdict{IsInTolerance: true}},
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorBody](t, rec).Error)
		})
	}
}

func TestNotConnected(t *testing.T) {
	h, _ := newTestServer(t, false)
	rec := do(t, h, http.MethodPost, "/api/v1/devices/edm/centre", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode[ErrorBody](t, rec).Error, "device not connected")
}

func TestSaveCalibration(t *testing.T) {
	h, _ := newTestServer(t, true)
	mark := "12000 90.000000 10.000000"
	rec := calibration.Record{
		SelectedCircleType: calibration.Hammer,
		TargetRadius:       calibration.UkaRadiusHammer,
		StationCoordinates: calibration.Point{X: 9, Y: 1},
		IsCentreSet:        true,
		EdgeVerificationResult: &calibration.Verdict{
			MeasuredRadius: 1.066, DifferenceMm: -1, IsInTolerance: true, ToleranceAppliedMm: 5,
		},
		CheckMarkValue: &mark,
	}
	resp := do(t, h, http.MethodPut, "/api/v1/devices/edm/calibration", rec)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	resp = do(t, h, http.MethodGet, "/api/v1/devices/edm/calibration", nil)
	got := decode[calibration.Record](t, resp)
	assert.Equal(t, "edm", got.DeviceID)
	assert.Equal(t, calibration.Hammer, got.SelectedCircleType)
	require.NotNil(t, got.CheckMarkValue)
	assert.Equal(t, mark, *got.CheckMarkValue)
}

func TestSessions(t *testing.T) {
	h, _ := newTestServer(t, true)

	rec := do(t, h, http.MethodGet, "/api/v1/sessions/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions", SessionRequest{CircleType: calibration.Shot})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode[throws.Session](t, rec)
	assert.NotEmpty(t, started.SessionID)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/devices/edm/centre", nil).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/devices/edm/throw", nil).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[throws.Session](t, rec).Coordinates, 1)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/current/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ended := decode[throws.Session](t, rec)
	assert.Equal(t, started.SessionID, ended.SessionID)
	require.NotNil(t, ended.EndTime)

	rec = do(t, h, http.MethodDelete, "/api/v1/throws", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ClearResponse](t, rec).Cleared)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions", map[string]string{"circleType": "CABER"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSilentDeviceIsGatewayTimeout(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(fmt.Errorf("first read failed: %w", device.ErrReadTimeout)))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
}
