package device

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/log"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

// CalibrationStore persists calibrations across restarts. LoadCalibration
// returns nil and no error for a device that has never been saved.
type CalibrationStore interface {
	LoadCalibration(ctx context.Context, deviceID string) (*calibration.Record, error)
	SaveCalibration(ctx context.Context, r calibration.Record) error
}

// Service is the local backend: it owns the device links, the calibrations
// and the throw tracker.
type Service struct {
	opener  Opener
	clock   timeutil.Clock
	tracker *throws.Tracker
	store   CalibrationStore
	wind    *WindBuffer
	rng     *rand.Rand

	mu           sync.Mutex
	devices      map[string]*conn
	calibrations map[string]calibration.Record
	demo         bool
	sims         map[string]*simulator
}

var _ backend.Backend = (*Service)(nil)

type Option func(*Service)

func WithOpener(o Opener) Option {
	return func(s *Service) { s.opener = o }
}

func WithClock(c timeutil.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithCalibrationStore(cs CalibrationStore) Option {
	return func(s *Service) { s.store = cs }
}

// WithSeed makes demo readings reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Service) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithDemoMode(enabled bool) Option {
	return func(s *Service) { s.demo = enabled }
}

func NewService(tracker *throws.Tracker, opts ...Option) *Service {
	s := &Service{
		opener:       SystemOpener(),
		clock:        timeutil.RealClock{},
		tracker:      tracker,
		devices:      make(map[string]*conn),
		calibrations: make(map[string]calibration.Record),
		sims:         make(map[string]*simulator),
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, o := range opts {
		o(s)
	}
	s.wind = NewWindBuffer(s.clock)
	return s
}

func (s *Service) Tracker() *throws.Tracker { return s.tracker }

// pause waits d on the service clock, returning early when ctx is done.
func (s *Service) pause(ctx context.Context, d time.Duration) error {
	return s.clock.SleepContext(ctx, d)
}

// --- connections ---

func (s *Service) ListSerialPorts() ([]string, error) {
	return s.opener.ListPorts()
}

func (s *Service) ConnectSerialDevice(ctx context.Context, deviceID, portName string, opts PortOptions) (string, error) {
	rw, err := s.opener.OpenSerial(portName, opts)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", portName, err)
	}
	s.attach(newConn(deviceID, ConnSerial, portName, rw))
	return fmt.Sprintf("Connected to %s on %s", deviceID, portName), nil
}

func (s *Service) ConnectNetworkDevice(ctx context.Context, deviceID, ip string, port int) (string, error) {
	address := net.JoinHostPort(ip, strconv.Itoa(port))
	rw, err := s.opener.Dial(ctx, address)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	s.attach(newConn(deviceID, ConnNetwork, address, rw))
	return fmt.Sprintf("Connected to %s at %s", deviceID, address), nil
}

// attach replaces any existing link for the same device.
func (s *Service) attach(c *conn) {
	var ctx context.Context
	if c.id == Wind {
		ctx, c.cancel = context.WithCancel(context.Background())
		c.listener.Add(1)
	}
	s.mu.Lock()
	old := s.devices[c.id]
	s.devices[c.id] = c
	s.mu.Unlock()
	if old != nil {
		_ = old.close()
	}
	log.Logger.Info("device connected",
		log.String("device", c.id), log.String("type", c.kind), log.String("address", c.address))

	switch c.id {
	case Wind:
		go listenWind(ctx, c, s.wind)
	case Scoreboard:
		if err := s.SendToScoreboard("88:88"); err != nil {
			log.Logger.Warn("scoreboard test pattern failed", log.ErrorField(err))
		}
	}
}

func (s *Service) DisconnectDevice(deviceID string) (string, error) {
	s.mu.Lock()
	c, ok := s.devices[deviceID]
	delete(s.devices, deviceID)
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", deviceID, backend.ErrNotConnected)
	}
	if err := c.close(); err != nil {
		log.Logger.Warn("error closing device", log.String("device", deviceID), log.ErrorField(err))
	}
	if deviceID == Wind {
		s.wind.Reset()
	}
	return fmt.Sprintf("Disconnected %s", deviceID), nil
}

// Close disconnects every device.
func (s *Service) Close() error {
	s.mu.Lock()
	devs := s.devices
	s.devices = make(map[string]*conn)
	s.mu.Unlock()
	var errs []error
	for _, c := range devs {
		errs = append(errs, c.close())
	}
	return errors.Join(errs...)
}

func (s *Service) device(id string) (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("EDM device type '%s': %w", id, backend.ErrNotConnected)
	}
	return c, nil
}

// --- demo mode ---

// SetDemoMode switches between simulated and real readings. Either way the
// simulated stations are discarded.
func (s *Service) SetDemoMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demo = enabled
	s.sims = make(map[string]*simulator)
	log.Logger.Info("demo mode changed", log.Bool("enabled", enabled))
}

func (s *Service) DemoMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demo
}

// simulation returns the device's simulator when demo mode is on.
func (s *Service) simulation(deviceID string) (*simulator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.demo {
		return nil, false
	}
	sim, ok := s.sims[deviceID]
	if !ok {
		sim = newSimulator(s.rng)
		s.sims[deviceID] = sim
	}
	return sim, true
}

// withSim runs fn under the service lock, since simulators share the rng.
func (s *Service) withSim(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// GetReliableEDMReading takes an averaged pair of readings from a real EDM.
func (s *Service) GetReliableEDMReading(ctx context.Context, deviceID string) (Reading, error) {
	c, err := s.device(deviceID)
	if err != nil {
		return Reading{}, err
	}
	return s.reliableReading(ctx, c)
}

// measure produces a reading from the simulator or the instrument.
func (s *Service) measure(ctx context.Context, deviceID string, delay time.Duration, demo func(*simulator) Reading) (Reading, error) {
	if sim, ok := s.simulation(deviceID); ok {
		if err := s.pause(ctx, delay); err != nil {
			return Reading{}, err
		}
		var r Reading
		s.withSim(func() { r = demo(sim) })
		return r, nil
	}
	return s.GetReliableEDMReading(ctx, deviceID)
}

// --- calibration ---

func (s *Service) record(ctx context.Context, deviceID string) (calibration.Record, error) {
	s.mu.Lock()
	r, ok := s.calibrations[deviceID]
	s.mu.Unlock()
	if ok {
		return r, nil
	}
	if s.store != nil {
		stored, err := s.store.LoadCalibration(ctx, deviceID)
		if err != nil {
			return calibration.Record{}, fmt.Errorf("failed to load calibration: %w", err)
		}
		if stored != nil {
			s.mu.Lock()
			s.calibrations[deviceID] = *stored
			s.mu.Unlock()
			return *stored, nil
		}
	}
	return calibration.DefaultRecord(deviceID), nil
}

func (s *Service) put(ctx context.Context, r calibration.Record) error {
	if s.store != nil {
		if err := s.store.SaveCalibration(ctx, r); err != nil {
			return fmt.Errorf("failed to save calibration: %w", err)
		}
	}
	s.mu.Lock()
	s.calibrations[r.DeviceID] = r
	s.mu.Unlock()
	return nil
}

func (s *Service) GetCalibration(ctx context.Context, deviceID string) (*calibration.Record, error) {
	r, err := s.record(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveCalibration replaces the stored record after checking it describes a
// legal calibration state. Demo stations are re-rolled.
func (s *Service) SaveCalibration(ctx context.Context, deviceID string, r calibration.Record) error {
	r.DeviceID = deviceID
	if _, err := calibration.FromRecord(r); err != nil {
		return err
	}
	if err := s.put(ctx, r); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sims, deviceID)
	s.mu.Unlock()
	return nil
}

// ResetCalibration returns the device to circle selection. The selected circle
// is kept; centre, edge and check mark are cleared in a single write.
func (s *Service) ResetCalibration(ctx context.Context, deviceID string) error {
	cal, err := s.record(ctx, deviceID)
	if err != nil {
		return err
	}
	m := calibration.NewMachine(circleOf(cal))
	if err := s.put(ctx, calibration.ToRecord(deviceID, m.State())); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sims, deviceID)
	s.mu.Unlock()
	log.Logger.Info("calibration reset",
		log.String("device", deviceID), log.String("circle", string(cal.SelectedCircleType)))
	return nil
}

func circleOf(r calibration.Record) calibration.Circle {
	return calibration.Circle{Type: r.SelectedCircleType, Radius: r.TargetRadius}
}

// SetCircleCentre sights the circle centre and derives the station position.
// Any earlier edge verification and check mark are discarded.
func (s *Service) SetCircleCentre(ctx context.Context, deviceID string) (*calibration.Record, error) {
	cal, err := s.record(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	reading, err := s.measure(ctx, deviceID, CentreDelay, (*simulator).centreReading)
	if err != nil {
		return nil, fmt.Errorf("could not get centre reading: %w", err)
	}
	station := StationFromCentre(reading)
	log.Logger.Info("centre reading",
		log.String("device", deviceID), log.String("circle", string(cal.SelectedCircleType)),
		log.String("reading", reading.String()),
		log.Float64("stationX", station.X), log.Float64("stationY", station.Y))

	cal.DeviceID = deviceID
	cal.StationCoordinates = station
	cal.IsCentreSet = true
	cal.EdgeVerificationResult = nil
	cal.CheckMarkValue = nil
	cal.Timestamp = s.clock.Now().UTC()
	if err := s.put(ctx, cal); err != nil {
		return nil, err
	}
	return &cal, nil
}

// VerifyCircleEdge sights a point on the circle edge and evaluates the
// measured radius against the target.
func (s *Service) VerifyCircleEdge(ctx context.Context, deviceID string) (*calibration.Record, error) {
	cal, err := s.record(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !cal.IsCentreSet {
		return nil, fmt.Errorf("%w: must set circle centre first", calibration.ErrStepOrder)
	}
	circle := circleOf(cal)
	reading, err := s.measure(ctx, deviceID, EdgeDelay, func(sim *simulator) Reading {
		return sim.edgeReading(circle.Radius)
	})
	if err != nil {
		return nil, fmt.Errorf("could not get edge reading: %w", err)
	}
	edge := Locate(cal.StationCoordinates, reading)
	verdict := circle.Evaluate(FromCentre(edge))
	log.Logger.Info("edge verification",
		log.String("device", deviceID), log.String("circle", string(circle.Type)),
		log.Float64("targetRadius", circle.Radius),
		log.Float64("measuredRadius", verdict.MeasuredRadius),
		log.Float64("differenceMm", verdict.DifferenceMm),
		log.Float64("toleranceMm", verdict.ToleranceAppliedMm),
		log.Bool("inTolerance", verdict.IsInTolerance))

	cal.EdgeVerificationResult = &verdict
	cal.CheckMarkValue = nil
	if err := s.put(ctx, cal); err != nil {
		return nil, err
	}
	return &cal, nil
}

// TriggerDeviceRead takes a single raw reading. A check mark is stored with
// the calibration and needs an edge inside tolerance.
func (s *Service) TriggerDeviceRead(ctx context.Context, deviceID string, rc calibration.ReadContext) (string, error) {
	cal, err := s.record(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if rc == calibration.ReadCheckMark {
		if cal.EdgeVerificationResult == nil || !cal.EdgeVerificationResult.IsInTolerance {
			return "", calibration.ErrOutOfTolerance
		}
	}

	var value string
	if sim, ok := s.simulation(deviceID); ok {
		if err := s.pause(ctx, EdgeDelay); err != nil {
			return "", err
		}
		s.withSim(func() {
			if rc == calibration.ReadCheckMark {
				value = sim.throwReading(circleOf(cal)).String()
			} else {
				value = sim.edgeReading(cal.TargetRadius).String()
			}
		})
	} else {
		c, err := s.device(deviceID)
		if err != nil {
			return "", err
		}
		if value, err = c.readRaw(ctx); err != nil {
			return "", fmt.Errorf("device read failed: %w", err)
		}
	}
	log.Logger.Info("device read", log.String("device", deviceID), log.String("context", string(rc)), log.String("value", value))

	if rc == calibration.ReadCheckMark {
		cal.CheckMarkValue = &value
		if err := s.put(ctx, cal); err != nil {
			return "", err
		}
	}
	return value, nil
}

// --- measurement ---

// MeasureThrow measures a landing point, stores its coordinate and shows
// the mark on the scoreboard. Outside demo mode the device must have a
// verified edge within tolerance.
func (s *Service) MeasureThrow(ctx context.Context, deviceID string, req backend.ThrowRequest) (backend.Throw, error) {
	cal, err := s.record(ctx, deviceID)
	if err != nil {
		return backend.Throw{}, err
	}
	if !cal.IsCentreSet {
		return backend.Throw{}, fmt.Errorf("%w: centre not set", backend.ErrNotCalibrated)
	}
	if !s.DemoMode() && (cal.EdgeVerificationResult == nil || !cal.EdgeVerificationResult.IsInTolerance) {
		return backend.Throw{}, fmt.Errorf("%w: edge verification within tolerance is required before measurement",
			backend.ErrNotCalibrated)
	}
	circle := circleOf(cal)
	reading, err := s.measure(ctx, deviceID, ThrowDelay, func(sim *simulator) Reading {
		return sim.throwReading(circle)
	})
	if err != nil {
		return backend.Throw{}, fmt.Errorf("could not get throw reading: %w", err)
	}

	p := Locate(cal.StationCoordinates, reading)
	dist := FromCentre(p) - circle.Radius
	coord := throws.Coordinate{
		X:          p.X,
		Y:          p.Y,
		Distance:   dist,
		CircleType: circle.Type,
		Timestamp:  s.clock.Now().UTC(),
		AthleteID:  req.AthleteID,
		Round:      req.Round,
		EDMReading: reading.String(),
	}
	if err := s.tracker.Record(ctx, coord); err != nil {
		return backend.Throw{}, err
	}

	mark := fmt.Sprintf("%.2f", dist)
	s.announce(mark)
	return backend.Throw{Mark: mark + " m", Coordinate: coord}, nil
}

// MeasureWind averages the last five seconds of gauge readings.
func (s *Service) MeasureWind(ctx context.Context, deviceID string) (string, error) {
	var v float64
	if sim, ok := s.simulation(deviceID); ok {
		s.withSim(func() { v = sim.windReading() })
	} else {
		if _, err := s.device(deviceID); err != nil {
			return "", fmt.Errorf("wind gauge: %w", backend.ErrNotConnected)
		}
		avg, err := s.wind.Average()
		if err != nil {
			return "", err
		}
		v = avg
	}
	result := FormatWind(v)
	s.announce(result)
	return result, nil
}

// SendToScoreboard writes one line to the scoreboard.
func (s *Service) SendToScoreboard(value string) error {
	if s.DemoMode() {
		log.Logger.Info("demo scoreboard", log.String("value", value))
		return nil
	}
	s.mu.Lock()
	c, ok := s.devices[Scoreboard]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scoreboard: %w", backend.ErrNotConnected)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write([]byte(value + "\r\n")); err != nil {
		return fmt.Errorf("failed to write to scoreboard: %w", err)
	}
	return nil
}

// announce shows value on the scoreboard if there is one.
func (s *Service) announce(value string) {
	if err := s.SendToScoreboard(value); err != nil && !errors.Is(err, backend.ErrNotConnected) {
		log.Logger.Warn("scoreboard update failed", log.String("value", value), log.ErrorField(err))
	}
}

// --- throws and heat map ---

func (s *Service) Throws(ctx context.Context, circleType calibration.CircleType) ([]throws.Coordinate, error) {
	return s.tracker.Throws(ctx, circleType)
}

// ExportHeatmapData aggregates the stored throws of one circle type.
func (s *Service) ExportHeatmapData(ctx context.Context, circleType calibration.CircleType, gridSize float64) (heatmap.Data, error) {
	if !heatmap.ValidGridSize(gridSize) {
		return heatmap.Data{}, fmt.Errorf("%w: %v", heatmap.ErrInvalidGridSize, gridSize)
	}
	coords, err := s.tracker.Throws(ctx, circleType)
	if err != nil {
		return heatmap.Data{}, err
	}
	if len(coords) == 0 {
		return heatmap.Data{}, backend.ErrNoCoordinates
	}
	return heatmap.Aggregate(circleType, coords, gridSize)
}
