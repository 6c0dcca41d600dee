// Package api exposes a device backend over HTTP so a UI on another machine
// can drive calibration, measurement and the heat map.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
)

// Prefix is where the versioned API is mounted.
const Prefix = "/api/v1"

// ValueResponse carries a single display string, such as a raw reading or a
// wind value.
type ValueResponse struct {
	Value string `json:"value"`
}

// SessionRequest starts a session.
type SessionRequest struct {
	CircleType calibration.CircleType `json:"circleType"`
}

// ClearResponse reports how many throws were deleted.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

type Server struct {
	backend backend.Backend
	tracker *throws.Tracker
	canvas  heatmap.Canvas
	timeout time.Duration
}

type Option func(*Server)

// WithTracker enables the session and clear-throws routes.
func WithTracker(t *throws.Tracker) Option {
	return func(s *Server) { s.tracker = t }
}

func WithCanvas(c heatmap.Canvas) Option {
	return func(s *Server) { s.canvas = c }
}

// WithTimeout bounds each request. Device reads in demo mode take seconds, so
// keep it well above the slowest measurement.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewServer(b backend.Backend, opts ...Option) *Server {
	s := &Server{backend: b, canvas: heatmap.DefaultCanvas(), timeout: 60 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full router with middleware and the health check.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer, middleware.Timeout(s.timeout))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Mount(Prefix, s.Routes())
	return router
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/devices/{id}", func(r chi.Router) {
		r.Post("/centre", s.handleSetCentre)
		r.Post("/edge", s.handleVerifyEdge)
		r.Post("/read", s.handleRead)
		r.Get("/calibration", s.handleGetCalibration)
		r.Put("/calibration", s.handleSaveCalibration)
		r.Delete("/calibration", s.handleResetCalibration)
		r.Post("/throw", s.handleMeasureThrow)
		r.Post("/wind", s.handleMeasureWind)
	})
	r.Get("/heatmap", s.handleHeatmap)
	r.Get("/heatmap/{format}", s.handleHeatmapImage)
	r.Get("/throws", s.handleThrows)
	r.Get("/throws.csv", s.handleThrowsCSV)
	if s.tracker != nil {
		r.Delete("/throws", s.handleClearThrows)
		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions/current", s.handleCurrentSession)
		r.Post("/sessions/current/end", s.handleEndSession)
	}
	return r
}

func (s *Server) handleSetCentre(w http.ResponseWriter, r *http.Request) {
	rec, err := s.backend.SetCircleCentre(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleVerifyEdge(w http.ResponseWriter, r *http.Request) {
	rec, err := s.backend.VerifyCircleEdge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	rc, err := calibration.ParseReadContext(r.URL.Query().Get("context"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.backend.TriggerDeviceRead(r.Context(), chi.URLParam(r, "id"), rc)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Value: v})
}

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	rec, err := s.backend.GetCalibration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSaveCalibration(w http.ResponseWriter, r *http.Request) {
	var rec calibration.Record
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid calibration payload: %v", err))
		return
	}
	if err := s.backend.SaveCalibration(r.Context(), chi.URLParam(r, "id"), rec); err != nil {
		writeBackendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetCalibration(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ResetCalibration(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeBackendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMeasureThrow(w http.ResponseWriter, r *http.Request) {
	var req backend.ThrowRequest
	// The body is optional.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid throw payload: %v", err))
		return
	}
	t, err := s.backend.MeasureThrow(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleMeasureWind(w http.ResponseWriter, r *http.Request) {
	v, err := s.backend.MeasureWind(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Value: v})
}

// heatmapQuery reads circleType and gridSize. gridSize defaults to
// heatmap.DefaultGridSize.
func heatmapQuery(r *http.Request) (calibration.CircleType, float64, error) {
	q := r.URL.Query()
	ct, err := calibration.ParseCircleType(q.Get("circleType"))
	if err != nil {
		return "", 0, err
	}
	gs := heatmap.DefaultGridSize
	if raw := q.Get("gridSize"); raw != "" {
		if gs, err = strconv.ParseFloat(raw, 64); err != nil {
			return "", 0, fmt.Errorf("%w: %q", heatmap.ErrInvalidGridSize, raw)
		}
	}
	return ct, gs, nil
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	ct, gs, err := heatmapQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.backend.ExportHeatmapData(r.Context(), ct, gs)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleHeatmapImage renders the heat map, drawing the empty state when there
// are no throws. radius is required for CUSTOM circles.
func (s *Server) handleHeatmapImage(w http.ResponseWriter, r *http.Request) {
	f, err := heatmap.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	ct, gs, err := heatmapQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var radius float64
	if raw := r.URL.Query().Get("radius"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid radius %q", raw))
			return
		}
	}
	circle, err := calibration.NewCircle(ct, radius)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := backend.HeatmapOrEmpty(r.Context(), s.backend, ct, gs)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := heatmap.Render(&buf, f, d, circle, s.canvas); err != nil {
		writeBackendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	_, _ = buf.WriteTo(w)
}

// circleFilter parses an optional circleType. Empty means every type.
func circleFilter(r *http.Request) (calibration.CircleType, error) {
	raw := r.URL.Query().Get("circleType")
	if raw == "" {
		return "", nil
	}
	return calibration.ParseCircleType(raw)
}

func (s *Server) handleThrows(w http.ResponseWriter, r *http.Request) {
	ct, err := circleFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	coords, err := s.backend.Throws(r.Context(), ct)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	if coords == nil {
		coords = []throws.Coordinate{}
	}
	writeJSON(w, http.StatusOK, coords)
}

func (s *Server) handleThrowsCSV(w http.ResponseWriter, r *http.Request) {
	ct, err := circleFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	coords, err := s.backend.Throws(r.Context(), ct)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := throws.WriteCSV(&buf, coords); err != nil {
		writeBackendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="throws.csv"`)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleClearThrows(w http.ResponseWriter, r *http.Request) {
	n, err := s.tracker.Clear(r.Context())
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{Cleared: n})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid session payload: %v", err))
		return
	}
	ct, err := calibration.ParseCircleType(string(req.CircleType))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.tracker.StartSession(r.Context(), ct)
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.tracker.Current()
	if errors.Is(err, throws.ErrNoSession) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.tracker.EndSession(r.Context())
	if errors.Is(err, throws.ErrNoSession) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
