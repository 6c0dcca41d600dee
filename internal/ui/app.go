// Package ui is the application object bound into the Wails desktop shell.
// Every exported method is callable from the frontend.
package ui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/config"
	"github.com/KingstonPolyAC/PolyField/internal/device"
	"github.com/KingstonPolyAC/PolyField/internal/events"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/log"
	"github.com/KingstonPolyAC/PolyField/internal/schedule"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

// Frontend event names.
const (
	EventWindCountdown = "wind:countdown"
	EventWindResult    = "wind:result"
)

const windCountdownSteps = 5

var ErrLocalOnly = errors.New("only available with a local device backend")

// Emitter delivers an event to the frontend.
type Emitter func(name string, data ...interface{})

// WindResult is the payload of EventWindResult.
type WindResult struct {
	DeviceID string `json:"deviceId"`
	Value    string `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HeatmapView is what the heat map screen draws.
type HeatmapView struct {
	Image      string             `json:"image"`
	Data       heatmap.Data       `json:"data"`
	Statistics *throws.Statistics `json:"statistics,omitempty"`
}

type App struct {
	cfg     config.Config
	backend backend.Backend
	local   *device.Service
	events  *events.Client
	clock   timeutil.Clock
	emit    Emitter

	mu          sync.Mutex
	ctx         context.Context
	controllers map[string]*calibration.Controller
	wind        *schedule.Countdown
}

type Option func(*App)

// WithLocal gives the App direct access to the in-process device service,
// enabling connections, demo mode, sessions and the scoreboard.
func WithLocal(s *device.Service) Option {
	return func(a *App) { a.local = s }
}

func WithEmitter(e Emitter) Option {
	return func(a *App) { a.emit = e }
}

func WithClock(c timeutil.Clock) Option {
	return func(a *App) { a.clock = c }
}

func NewApp(cfg config.Config, b backend.Backend, ev *events.Client, opts ...Option) *App {
	a := &App{
		cfg:         cfg,
		backend:     b,
		events:      ev,
		clock:       timeutil.RealClock{},
		controllers: make(map[string]*calibration.Controller),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Startup is the Wails OnStartup hook.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	if a.emit == nil {
		a.emit = func(name string, data ...interface{}) { runtime.EventsEmit(ctx, name, data...) }
	}
	a.mu.Unlock()
	go a.events.RunRetryLoop(ctx, a.cfg.CacheRetry)
	log.Logger.Info("app started", log.String("backend", a.cfg.BackendMode), log.Bool("demo", a.cfg.Demo))
}

// Shutdown is the Wails OnShutdown hook.
func (a *App) Shutdown(context.Context) {
	a.CancelWindMeasurement()
	log.Logger.Info("app stopped")
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

func (a *App) send(name string, data ...interface{}) {
	a.mu.Lock()
	emit := a.emit
	a.mu.Unlock()
	if emit != nil {
		emit(name, data...)
	}
}

func (a *App) request() (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.context(), a.cfg.RequestTimeout)
}

// --- calibration ---

func (a *App) controller(deviceID string) *calibration.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.controllers[deviceID]
	if !ok {
		c = calibration.NewController(deviceID, a.backend,
			calibration.WithClock(a.clock), calibration.WithTimeout(a.cfg.RequestTimeout))
		a.controllers[deviceID] = c
	}
	return c
}

// step runs one calibration action. Failures surface in the returned view's
// status; the frontend never sees a rejected call.
func (a *App) step(deviceID string, fn func(*calibration.Controller, context.Context) (calibration.View, error)) calibration.View {
	v, err := fn(a.controller(deviceID), a.context())
	if err != nil && !strings.Contains(v.Status, err.Error()) {
		v.Status = "Error: " + err.Error()
	}
	return v
}

func (a *App) CalibrationView(deviceID string) calibration.View {
	return a.controller(deviceID).View()
}

func (a *App) LoadCalibration(deviceID string) calibration.View {
	return a.step(deviceID, (*calibration.Controller).Load)
}

func (a *App) SelectCircle(deviceID, circleType string, customRadius float64) calibration.View {
	return a.step(deviceID, func(c *calibration.Controller, ctx context.Context) (calibration.View, error) {
		t, err := calibration.ParseCircleType(circleType)
		if err != nil {
			return c.View(), err
		}
		return c.SelectCircle(ctx, t, customRadius)
	})
}

func (a *App) SetCircleCentre(deviceID string) calibration.View {
	return a.step(deviceID, (*calibration.Controller).SetCentre)
}

func (a *App) VerifyCircleEdge(deviceID string) calibration.View {
	return a.step(deviceID, (*calibration.Controller).VerifyEdge)
}

func (a *App) RecordCheckMark(deviceID string) calibration.View {
	return a.step(deviceID, (*calibration.Controller).RecordCheckMark)
}

func (a *App) RetryStep(deviceID string, step int) calibration.View {
	return a.step(deviceID, func(c *calibration.Controller, ctx context.Context) (calibration.View, error) {
		return c.Retry(ctx, calibration.Step(step))
	})
}

func (a *App) ResetCalibration(deviceID string) calibration.View {
	return a.step(deviceID, (*calibration.Controller).Reset)
}

func (a *App) ReadEdgeRaw(deviceID string) (string, error) {
	return a.controller(deviceID).ReadEdgeRaw(a.context())
}

func (a *App) CircleTypes() []calibration.CircleType {
	return calibration.CircleTypes()
}

// --- measurement ---

func (a *App) MeasureThrow(deviceID, athleteID, round string) (backend.Throw, error) {
	ctx, cancel := a.request()
	defer cancel()
	return a.backend.MeasureThrow(ctx, deviceID, backend.ThrowRequest{AthleteID: athleteID, Round: round})
}

// StartWindMeasurement counts down five seconds, emitting EventWindCountdown
// each second, then measures and emits EventWindResult. Starting again
// replaces a countdown in progress.
func (a *App) StartWindMeasurement(deviceID string) {
	a.mu.Lock()
	prev := a.wind
	a.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	cd := schedule.Start(a.clock, windCountdownSteps, time.Second,
		func(remaining int) { a.send(EventWindCountdown, remaining) },
		func() { a.send(EventWindResult, a.measureWind(deviceID)) })

	a.mu.Lock()
	a.wind = cd
	a.mu.Unlock()
}

func (a *App) measureWind(deviceID string) WindResult {
	ctx, cancel := a.request()
	defer cancel()
	res := WindResult{DeviceID: deviceID}
	v, err := a.backend.MeasureWind(ctx, deviceID)
	if err != nil {
		log.Logger.Warn("wind measurement failed", log.String("device", deviceID), log.ErrorField(err))
		res.Error = err.Error()
		return res
	}
	res.Value = v
	return res
}

// CancelWindMeasurement stops a running countdown. It reports whether a
// measurement was prevented.
func (a *App) CancelWindMeasurement() bool {
	a.mu.Lock()
	cd := a.wind
	a.wind = nil
	a.mu.Unlock()
	if cd == nil {
		return false
	}
	return cd.Cancel()
}

// --- heat map and throws ---

func (a *App) GridSizes() []float64 {
	return heatmap.GridSizes
}

// circleFor prefers the radius the device is calibrated against.
func (a *App) circleFor(deviceID string, t calibration.CircleType) (calibration.Circle, error) {
	a.mu.Lock()
	c, ok := a.controllers[deviceID]
	a.mu.Unlock()
	if ok {
		rec := c.View().Record
		if rec.SelectedCircleType == t && rec.TargetRadius > 0 {
			return calibration.Circle{Type: t, Radius: rec.TargetRadius}, nil
		}
	}
	return calibration.NewCircle(t, 0)
}

// Heatmap renders the landing heat map of one circle type as a PNG data URL.
// No throws renders the empty state.
func (a *App) Heatmap(deviceID, circleType string, gridSize float64) (HeatmapView, error) {
	t, err := calibration.ParseCircleType(circleType)
	if err != nil {
		return HeatmapView{}, err
	}
	circle, err := a.circleFor(deviceID, t)
	if err != nil {
		return HeatmapView{}, err
	}
	ctx, cancel := a.request()
	defer cancel()
	d, err := backend.HeatmapOrEmpty(ctx, a.backend, t, gridSize)
	if err != nil {
		return HeatmapView{}, err
	}
	canvas := heatmap.Canvas{Width: float64(a.cfg.HeatmapWidth), Height: float64(a.cfg.HeatmapHeight), Margin: heatmap.DefaultCanvas().Margin}
	img, err := heatmap.DataURL(heatmap.BuildScene(d, circle, canvas))
	if err != nil {
		return HeatmapView{}, err
	}
	v := HeatmapView{Image: img, Data: d}
	if st, ok := throws.Compute(d.Coordinates); ok {
		v.Statistics = &st
	}
	log.Logger.Debug("heatmap rendered", log.String("circle", string(t)), log.Float64("gridSize", gridSize), log.Int("throws", d.TotalThrows))
	return v, nil
}

func parseFilter(circleType string) (calibration.CircleType, error) {
	if circleType == "" {
		return "", nil
	}
	return calibration.ParseCircleType(circleType)
}

// ExportThrowCoordinates lists stored throws. An empty circle type lists all.
func (a *App) ExportThrowCoordinates(circleType string) ([]throws.Coordinate, error) {
	t, err := parseFilter(circleType)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.request()
	defer cancel()
	return a.backend.Throws(ctx, t)
}

func (a *App) ExportThrowCoordinatesAsCSV(circleType string) (string, error) {
	coords, err := a.ExportThrowCoordinates(circleType)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := throws.WriteCSV(&buf, coords); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (a *App) GetThrowStatistics(circleType string) (throws.Statistics, error) {
	coords, err := a.ExportThrowCoordinates(circleType)
	if err != nil {
		return throws.Statistics{}, err
	}
	st, ok := throws.Compute(coords)
	if !ok {
		return throws.Statistics{}, fmt.Errorf("no throws found for %s", circleType)
	}
	return st, nil
}

func (a *App) tracker() (*throws.Tracker, error) {
	if a.local == nil {
		return nil, ErrLocalOnly
	}
	return a.local.Tracker(), nil
}

func (a *App) StartThrowSession(circleType string) (throws.Session, error) {
	tr, err := a.tracker()
	if err != nil {
		return throws.Session{}, err
	}
	t, err := calibration.ParseCircleType(circleType)
	if err != nil {
		return throws.Session{}, err
	}
	return tr.StartSession(a.context(), t)
}

func (a *App) EndThrowSession() (throws.Session, error) {
	tr, err := a.tracker()
	if err != nil {
		return throws.Session{}, err
	}
	return tr.EndSession(a.context())
}

func (a *App) GetCurrentSession() (throws.Session, error) {
	tr, err := a.tracker()
	if err != nil {
		return throws.Session{}, err
	}
	return tr.Current()
}

func (a *App) ClearThrowCoordinates() (int, error) {
	tr, err := a.tracker()
	if err != nil {
		return 0, err
	}
	return tr.Clear(a.context())
}

// --- devices ---

func (a *App) ListSerialPorts() ([]string, error) {
	if a.local == nil {
		return nil, ErrLocalOnly
	}
	return a.local.ListSerialPorts()
}

func (a *App) ConnectSerialDevice(deviceID, portName string, opts device.PortOptions) (string, error) {
	if a.local == nil {
		return "", ErrLocalOnly
	}
	return a.local.ConnectSerialDevice(a.context(), deviceID, portName, opts)
}

func (a *App) ConnectNetworkDevice(deviceID, ip string, port int) (string, error) {
	if a.local == nil {
		return "", ErrLocalOnly
	}
	ctx, cancel := a.request()
	defer cancel()
	return a.local.ConnectNetworkDevice(ctx, deviceID, ip, port)
}

func (a *App) DisconnectDevice(deviceID string) (string, error) {
	if a.local == nil {
		return "", ErrLocalOnly
	}
	return a.local.DisconnectDevice(deviceID)
}

// SetDemoMode replaces the cached controllers with fresh ones loaded from the
// backend.
func (a *App) SetDemoMode(enabled bool) error {
	if a.local == nil {
		return ErrLocalOnly
	}
	a.local.SetDemoMode(enabled)
	a.mu.Lock()
	dropped := a.controllers
	a.controllers = make(map[string]*calibration.Controller)
	a.mu.Unlock()

	for id := range dropped {
		if _, err := a.controller(id).Load(a.context()); err != nil {
			log.Logger.Warn("could not reload calibration", log.String("device", id), log.ErrorField(err))
		}
	}
	return nil
}

func (a *App) DemoMode() bool {
	return a.local != nil && a.local.DemoMode()
}

func (a *App) SendToScoreboard(value string) error {
	if a.local == nil {
		return ErrLocalOnly
	}
	return a.local.SendToScoreboard(value)
}

// --- event server ---

func (a *App) SetServerAddress(ip string, port int) {
	addr := a.cfg.WithEventServer(ip, port).EventServerAddress
	a.events.SetServerAddress(addr)
	log.Logger.Info("event server set", log.String("address", addr))
}

func (a *App) FetchEvents() ([]events.Event, error) {
	ctx, cancel := a.request()
	defer cancel()
	return a.events.FetchEvents(ctx)
}

func (a *App) FetchEventDetails(eventID string) (*events.Event, error) {
	ctx, cancel := a.request()
	defer cancel()
	return a.events.FetchEventDetails(ctx, eventID)
}

func (a *App) PostResult(p events.ResultPayload) error {
	ctx, cancel := a.request()
	defer cancel()
	return a.events.PostResult(ctx, p)
}
