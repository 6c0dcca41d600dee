package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KingstonPolyAC/PolyField/internal/log"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

var (
	ErrBusy     = errors.New("a calibration request is already in progress")
	ErrNoResult = errors.New("no result data received")
)

// DefaultRequestTimeout bounds every remote call made by a Controller.
const DefaultRequestTimeout = 30 * time.Second

// Remote is the device backend as seen by the calibration flow.
type Remote interface {
	SetCircleCentre(ctx context.Context, deviceID string) (*Record, error)
	VerifyCircleEdge(ctx context.Context, deviceID string) (*Record, error)
	TriggerDeviceRead(ctx context.Context, deviceID string, rc ReadContext) (string, error)
	GetCalibration(ctx context.Context, deviceID string) (*Record, error)
	SaveCalibration(ctx context.Context, deviceID string, r Record) error
	ResetCalibration(ctx context.Context, deviceID string) error
}

// View is a snapshot of a device's calibration for display.
type View struct {
	DeviceID string `json:"deviceId"`
	Step     Step   `json:"step"`
	Record   Record `json:"record"`
	Ready    bool   `json:"ready"`
	Pending  bool   `json:"pending"`
	Status   string `json:"status"`
	Grade    Grade  `json:"grade,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// Controller drives one device's calibration against the remote backend.
// Only one step-advancing request may be outstanding at a time; a second one
// fails with ErrBusy instead of queueing. Every request is bounded by the
// configured timeout, and a failure always clears the pending flag.
type Controller struct {
	deviceID string
	remote   Remote
	clock    timeutil.Clock
	timeout  time.Duration

	mu      sync.Mutex
	machine *Machine
	pending bool
	status  string
}

type Option func(*Controller)

func WithClock(c timeutil.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithTimeout(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.timeout = d
		}
	}
}

func NewController(deviceID string, remote Remote, opts ...Option) *Controller {
	c := &Controller{
		deviceID: deviceID,
		remote:   remote,
		clock:    timeutil.RealClock{},
		timeout:  DefaultRequestTimeout,
		machine:  NewMachine(DefaultCircle()),
		status:   "Loading calibration data...",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) DeviceID() string { return c.deviceID }

// View returns the current snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Ready()
}

func (c *Controller) viewLocked() View {
	s := c.machine.State()
	v := View{
		DeviceID: c.deviceID,
		Step:     s.Step(),
		Record:   ToRecord(c.deviceID, s),
		Ready:    Ready(s),
		Pending:  c.pending,
		Status:   c.status,
	}
	if edge, ok := EdgeOf(s); ok {
		v.Grade = GradeOf(edge)
		v.Guidance = Advice(edge)
	}
	return v
}

// begin claims the pending slot.
func (c *Controller) begin(status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return ErrBusy
	}
	c.pending = true
	c.status = status
	return nil
}

// finish releases the pending slot and records the final status.
func (c *Controller) finish(status string) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	c.status = status
	return c.viewLocked()
}

func (c *Controller) fail(prefix string, err error) (View, error) {
	log.Logger.Warn("calibration request failed",
		log.String("device", c.deviceID), log.String("action", prefix), log.ErrorField(err))
	return c.finish(fmt.Sprintf("%s: %v", prefix, err)), err
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Load fetches the stored calibration from the backend.
func (c *Controller) Load(ctx context.Context) (View, error) {
	if err := c.begin("Loading calibration data..."); err != nil {
		return c.View(), err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rec, err := c.remote.GetCalibration(ctx, c.deviceID)
	if err != nil {
		return c.fail("Error", err)
	}
	state, err := FromRecord(*rec)
	if err != nil {
		return c.fail("Error", err)
	}
	c.mu.Lock()
	c.machine = Restore(state)
	c.mu.Unlock()
	return c.finish("Calibration data loaded."), nil
}

// SelectCircle switches circle type, which discards everything measured so far.
func (c *Controller) SelectCircle(ctx context.Context, t CircleType, customRadius float64) (View, error) {
	circle, err := NewCircle(t, customRadius)
	if err != nil {
		return c.View(), err
	}
	if err := c.begin("Saving circle selection..."); err != nil {
		return c.View(), err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	next := Restore(CircleSelected{Circle: circle})
	if err := c.remote.SaveCalibration(ctx, c.deviceID, ToRecord(c.deviceID, next.State())); err != nil {
		return c.fail("Error saving circle", err)
	}
	c.mu.Lock()
	c.machine = next
	c.mu.Unlock()
	log.Logger.Info("circle selected",
		log.String("device", c.deviceID), log.String("circle", string(circle.Type)), log.Float64("radius", circle.Radius))
	return c.finish(fmt.Sprintf("%s selected (radius %.4fm).", circle.Type.DisplayName(), circle.Radius)), nil
}

// SetCentre takes the centre reference reading.
func (c *Controller) SetCentre(ctx context.Context) (View, error) {
	if err := c.begin("Setting centre... Aim at circle centre and wait."); err != nil {
		return c.View(), err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rec, err := c.remote.SetCircleCentre(ctx, c.deviceID)
	if err != nil {
		return c.fail("Error setting centre", err)
	}
	if rec == nil || !rec.IsCentreSet {
		return c.fail("Error setting centre", ErrNoResult)
	}
	circle, err := rec.circle()
	if err != nil {
		return c.fail("Error setting centre", err)
	}
	at := rec.Timestamp
	if at.IsZero() {
		at = c.clock.Now().UTC()
	}
	c.mu.Lock()
	c.adoptLocked(circle)
	c.machine.SetCentre(rec.StationCoordinates, at)
	c.mu.Unlock()
	log.Logger.Info("centre set", log.String("device", c.deviceID),
		log.Float64("stationX", rec.StationCoordinates.X), log.Float64("stationY", rec.StationCoordinates.Y))
	return c.finish("Circle centre has been set."), nil
}

// VerifyEdge measures the edge and evaluates it. An out-of-tolerance result is
// stored and reported through the status, not as an error.
func (c *Controller) VerifyEdge(ctx context.Context) (View, error) {
	if err := c.begin("Verifying edge... Aim at circle edge and wait."); err != nil {
		return c.View(), err
	}
	c.mu.Lock()
	step := c.machine.Step()
	c.mu.Unlock()
	if step < StepCentreSet {
		return c.fail("Error", fmt.Errorf("%w: set the circle centre before verifying the edge", ErrStepOrder))
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rec, err := c.remote.VerifyCircleEdge(ctx, c.deviceID)
	if err != nil {
		return c.fail("Error during edge verification", err)
	}
	if rec == nil || rec.EdgeVerificationResult == nil {
		return c.fail("Edge verification failed", ErrNoResult)
	}
	// The backend's record is authoritative for the circle and the centre the
	// edge was measured against; only the verdict is recomputed here.
	base := *rec
	base.EdgeVerificationResult, base.CheckMarkValue = nil, nil
	state, err := FromRecord(base)
	if err != nil {
		return c.fail("Error during edge verification", err)
	}
	if state.Step() != StepCentreSet {
		return c.fail("Edge verification failed", fmt.Errorf("%w: backend reports no centre", ErrStepOrder))
	}
	verdict := state.circle().Evaluate(rec.EdgeVerificationResult.MeasuredRadius)

	c.mu.Lock()
	c.adoptLocked(state.circle())
	c.machine = Restore(state)
	err = c.machine.VerifyEdge(verdict)
	c.mu.Unlock()
	if err != nil {
		return c.fail("Error during edge verification", err)
	}
	log.Logger.Info("edge verified", log.String("device", c.deviceID),
		log.Float64("measuredRadius", verdict.MeasuredRadius),
		log.Float64("differenceMm", verdict.DifferenceMm),
		log.Bool("inTolerance", verdict.IsInTolerance))
	return c.finish(EdgeStatus(verdict)), nil
}

// adoptLocked switches to the backend's circle when it differs from ours,
// dropping whatever was measured against the old one.
func (c *Controller) adoptLocked(circle Circle) {
	if cur := c.machine.Circle(); cur != circle {
		log.Logger.Warn("backend reports a different circle",
			log.String("device", c.deviceID),
			log.String("local", string(cur.Type)), log.String("backend", string(circle.Type)))
		c.machine = NewMachine(circle)
	}
}

// RecordCheckMark takes the optional check-mark reading. It is refused unless
// the edge passed tolerance.
func (c *Controller) RecordCheckMark(ctx context.Context) (View, error) {
	if err := c.begin("Reading check mark..."); err != nil {
		return c.View(), err
	}
	c.mu.Lock()
	ready := c.machine.Ready()
	step := c.machine.Step()
	c.mu.Unlock()
	if step < StepEdgeVerified {
		return c.fail("Error", fmt.Errorf("%w: verify the circle edge before recording a check mark", ErrStepOrder))
	}
	if !ready {
		return c.fail("Error", ErrOutOfTolerance)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	value, err := c.remote.TriggerDeviceRead(ctx, c.deviceID, ReadCheckMark)
	if err != nil {
		return c.fail("Error reading check mark", err)
	}
	c.mu.Lock()
	err = c.machine.RecordCheckMark(value)
	c.mu.Unlock()
	if err != nil {
		return c.fail("Error reading check mark", err)
	}
	return c.finish(fmt.Sprintf("Check mark recorded: %s", value)), nil
}

// ReadEdgeRaw returns an informational raw edge reading without changing state.
func (c *Controller) ReadEdgeRaw(ctx context.Context) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.remote.TriggerDeviceRead(ctx, c.deviceID, ReadEdgeMeasurement)
}

// Retry returns to the start of step and saves the trimmed calibration.
func (c *Controller) Retry(ctx context.Context, step Step) (View, error) {
	if err := c.begin(fmt.Sprintf("Retrying %s...", step)); err != nil {
		return c.View(), err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.mu.Lock()
	next := Restore(c.machine.State())
	err := next.Retry(step)
	c.mu.Unlock()
	if err != nil {
		return c.fail("Error", err)
	}
	if err := c.remote.SaveCalibration(ctx, c.deviceID, ToRecord(c.deviceID, next.State())); err != nil {
		return c.fail("Error saving calibration", err)
	}
	c.mu.Lock()
	c.machine = next
	c.mu.Unlock()
	return c.finish(fmt.Sprintf("Ready to repeat %s.", step)), nil
}

// Reset clears the calibration on the backend, which keeps the selected
// circle, and then reloads the record the backend now holds.
func (c *Controller) Reset(ctx context.Context) (View, error) {
	if err := c.begin("Resetting calibration..."); err != nil {
		return c.View(), err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.remote.ResetCalibration(ctx, c.deviceID); err != nil {
		return c.fail("Error resetting", err)
	}
	c.mu.Lock()
	c.machine.Reset()
	c.mu.Unlock()

	rec, err := c.remote.GetCalibration(ctx, c.deviceID)
	if err != nil {
		return c.fail("Error resetting", err)
	}
	state, err := FromRecord(*rec)
	if err != nil {
		return c.fail("Error resetting", err)
	}
	c.mu.Lock()
	c.machine = Restore(state)
	c.mu.Unlock()
	return c.finish("Calibration has been reset."), nil
}
