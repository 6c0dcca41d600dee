package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/device"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/log"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

func decodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorBody{Error: message})
}

// statusFor maps backend errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrNoCoordinates):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, calibration.ErrStepOrder),
		errors.Is(err, calibration.ErrOutOfTolerance),
		errors.Is(err, backend.ErrNotCalibrated):
		return http.StatusConflict
	case errors.Is(err, calibration.ErrInvalidRecord),
		errors.Is(err, calibration.ErrInvalidRadius),
		errors.Is(err, heatmap.ErrInvalidGridSize):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrInconsistentReadings):
		return http.StatusUnprocessableEntity
	case errors.Is(err, device.ErrNoWindReadings):
		return http.StatusUnprocessableEntity
	case errors.Is(err, device.ErrReadTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Logger.Error("request failed",
			log.String("path", r.URL.Path), log.String("requestId", middleware.GetReqID(r.Context())), log.ErrorField(err))
	}
	writeError(w, status, err.Error())
}

// requestLogger logs each request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Logger.Info("http request",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Int("status", ww.Status()),
			log.Int("bytes", ww.BytesWritten()),
			log.Duration("elapsed", time.Since(start)),
			log.String("requestId", middleware.GetReqID(r.Context())))
	})
}
