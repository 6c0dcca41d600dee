package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

// scriptedEDM answers each read command with the next canned line.
type scriptedEDM struct {
	mu        sync.Mutex
	responses []string
	out       bytes.Buffer
	commands  int
	closed    bool
}

func (e *scriptedEDM) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bytes.Equal(p, readCommand) {
		e.commands++
		if len(e.responses) > 0 {
			e.out.WriteString(e.responses[0] + "\r\n")
			e.responses = e.responses[1:]
		}
	}
	return len(p), nil
}

func (e *scriptedEDM) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out.Len() == 0 {
		return 0, io.EOF
	}
	return e.out.Read(p)
}

func (e *scriptedEDM) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *scriptedEDM) queue(lines ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses = append(e.responses, lines...)
}

// lineRecorder captures what is written to a scoreboard.
type lineRecorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *lineRecorder) Read([]byte) (int, error) { return 0, io.EOF }
func (r *lineRecorder) Close() error             { return nil }

func (r *lineRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// windPipe is a gauge link the test writes lines into.
type windPipe struct {
	*io.PipeReader
	w *io.PipeWriter
}

func newWindPipe() *windPipe {
	r, w := io.Pipe()
	return &windPipe{PipeReader: r, w: w}
}

func (p *windPipe) Write(b []byte) (int, error) { return len(b), nil }

type fakeOpener struct {
	links map[string]io.ReadWriteCloser
	ports []string
}

func (f *fakeOpener) ListPorts() ([]string, error) { return f.ports, nil }

func (f *fakeOpener) OpenSerial(name string, _ PortOptions) (io.ReadWriteCloser, error) {
	if l, ok := f.links[name]; ok {
		return l, nil
	}
	return nil, io.ErrClosedPipe
}

func (f *fakeOpener) Dial(_ context.Context, address string) (io.ReadWriteCloser, error) {
	return f.OpenSerial(address, PortOptions{})
}

func newTestService(t *testing.T, links map[string]io.ReadWriteCloser, opts ...Option) (*Service, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC))
	opener := &fakeOpener{links: links, ports: []string{"/dev/ttyUSB0"}}
	all := append([]Option{WithOpener(opener), WithClock(clock), WithSeed(7)}, opts...)
	svc := NewService(throws.NewTracker(throws.NewMemoryStore(), clock), all...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, clock
}

func TestParseAngle(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0900000", 90, false},
		{"900000", 90, false},
		{"1803030", 180 + 30.0/60 + 30.0/3600, false},
		{"3595959", 359 + 59.0/60 + 59.0/3600, false},
		{"0906000", 0, true},
		{"0900060", 0, true},
		{"09000", 0, true},
		{"09000000", 0, true},
		{"09a0000", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAngle(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseReading(t *testing.T) {
	r, err := ParseReading("  11070.4 0900000 1800000 83\r\n")
	require.NoError(t, err)
	assert.Equal(t, Reading{SlopeDistanceMm: 11070.4, VAzDecimal: 90, HARDecimal: 180}, r)
	assert.Equal(t, "11070 90.000000 180.000000", r.String())

	_, err = ParseReading("11070 0900000 1800000")
	assert.ErrorContains(t, err, "malformed response")

	_, err = ParseReading("abc 0900000 1800000 83")
	assert.Error(t, err)
}

func TestAveragePair(t *testing.T) {
	r1 := Reading{SlopeDistanceMm: 10000, VAzDecimal: 90, HARDecimal: 10}
	r2 := Reading{SlopeDistanceMm: 10003, VAzDecimal: 91, HARDecimal: 12}

	avg, err := averagePair(r1, r2)
	require.NoError(t, err)
	assert.Equal(t, Reading{SlopeDistanceMm: 10001.5, VAzDecimal: 90.5, HARDecimal: 11}, avg)

	r2.SlopeDistanceMm = 10003.5
	_, err = averagePair(r1, r2)
	assert.ErrorIs(t, err, ErrInconsistentReadings)
}

func TestGeometry(t *testing.T) {
	centre := Reading{SlopeDistanceMm: 10000, VAzDecimal: 90, HARDecimal: 0}
	station := StationFromCentre(centre)
	assert.InDelta(t, -10, station.X, 1e-9)
	assert.InDelta(t, 0, station.Y, 1e-9)

	back := Locate(station, centre)
	assert.InDelta(t, 0, FromCentre(back), 1e-9)

	target := calibration.Point{X: 3, Y: -4}
	r := ReadingTo(station, target, 88)
	got := Locate(station, r)
	assert.InDelta(t, target.X, got.X, 1e-9)
	assert.InDelta(t, target.Y, got.Y, 1e-9)
	assert.GreaterOrEqual(t, r.HARDecimal, 0.0)
}

func TestPortOptions(t *testing.T) {
	n, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, n)

	mode, err := PortOptions{BaudRate: 19200, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 19200, mode.BaudRate)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)
}

func TestParseWind(t *testing.T) {
	v, ok := ParseWind("0,+1.2,m/s\r")
	assert.True(t, ok)
	assert.InDelta(t, 1.2, v, 1e-9)

	v, ok = ParseWind("0,-0.4")
	assert.True(t, ok)
	assert.InDelta(t, -0.4, v, 1e-9)

	for _, line := range []string{"", "0", "0,1.2", "0,+x"} {
		_, ok := ParseWind(line)
		assert.False(t, ok, line)
	}
	assert.Equal(t, "+0.0 m/s", FormatWind(0.04))
	assert.Equal(t, "-1.3 m/s", FormatWind(-1.26))
}

func TestWindBuffer(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC))
	b := NewWindBuffer(clock)

	_, err := b.Average()
	assert.ErrorIs(t, err, ErrNoWindReadings)

	b.Add(5.0)
	clock.Advance(6 * time.Second)
	b.Add(1.0)
	clock.Advance(time.Second)
	b.Add(2.0)

	avg, err := b.Average()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, avg, 1e-9, "the reading older than five seconds is excluded")

	for i := 0; i < windBufferSize+10; i++ {
		b.Add(0)
	}
	assert.Equal(t, windBufferSize, b.Len())
}

func TestServiceCalibrationWithInstrument(t *testing.T) {
	edm := &scriptedEDM{}
	board := &lineRecorder{}
	svc, clock := newTestService(t, map[string]io.ReadWriteCloser{"edm-port": edm, "board-port": board})
	ctx := context.Background()

	_, err := svc.ConnectSerialDevice(ctx, "edm", "edm-port", PortOptions{})
	require.NoError(t, err)
	_, err = svc.ConnectSerialDevice(ctx, Scoreboard, "board-port", PortOptions{})
	require.NoError(t, err)
	assert.Equal(t, "88:88\r\n", board.String())

	_, err = svc.VerifyCircleEdge(ctx, "edm")
	assert.ErrorIs(t, err, calibration.ErrStepOrder)

	edm.queue("10000 0900000 1800000 83", "10000 0900000 1800000 83")
	rec, err := svc.SetCircleCentre(ctx, "edm")
	require.NoError(t, err)
	assert.True(t, rec.IsCentreSet)
	assert.InDelta(t, 10, rec.StationCoordinates.X, 1e-9)
	assert.InDelta(t, 0, rec.StationCoordinates.Y, 1e-6)
	assert.Equal(t, clock.Now().UTC(), rec.Timestamp)
	assert.Equal(t, []time.Duration{pairDelay}, clock.Sleeps())

	// Station at (10, 0) looking back along 180° to (1.0705, 0).
	edm.queue("8929.5 0900000 1800000 83", "8929.5 0900000 1800000 83")
	rec, err = svc.VerifyCircleEdge(ctx, "edm")
	require.NoError(t, err)
	require.NotNil(t, rec.EdgeVerificationResult)
	assert.InDelta(t, 1.0705, rec.EdgeVerificationResult.MeasuredRadius, 1e-6)
	assert.InDelta(t, 3.0, rec.EdgeVerificationResult.DifferenceMm, 1e-6)
	assert.True(t, rec.EdgeVerificationResult.IsInTolerance)

	edm.queue("5000 0900000 1800000 83")
	mark, err := svc.TriggerDeviceRead(ctx, "edm", calibration.ReadCheckMark)
	require.NoError(t, err)
	assert.Equal(t, "5000 0900000 1800000 83", mark)
	stored, err := svc.GetCalibration(ctx, "edm")
	require.NoError(t, err)
	require.NotNil(t, stored.CheckMarkValue)
	assert.Equal(t, mark, *stored.CheckMarkValue)

	// Landing at (-15, 0): 25m from the station.
	edm.queue("25000 0900000 1800000 83", "25000 0900000 1800000 83")
	th, err := svc.MeasureThrow(ctx, "edm", backend.ThrowRequest{AthleteID: "101", Round: "2"})
	require.NoError(t, err)
	assert.Equal(t, "13.93 m", th.Mark)
	assert.InDelta(t, -15, th.Coordinate.X, 1e-9)
	assert.Equal(t, calibration.Shot, th.Coordinate.CircleType)
	assert.Equal(t, "101", th.Coordinate.AthleteID)
	assert.Equal(t, "25000 90.000000 180.000000", th.Coordinate.EDMReading)
	assert.Equal(t, "88:88\r\n13.93\r\n", board.String())

	coords, err := svc.Throws(ctx, calibration.Shot)
	require.NoError(t, err)
	assert.Len(t, coords, 1)
}

func TestServiceInconsistentPair(t *testing.T) {
	edm := &scriptedEDM{}
	svc, _ := newTestService(t, map[string]io.ReadWriteCloser{"edm-port": edm})
	ctx := context.Background()
	_, err := svc.ConnectSerialDevice(ctx, "edm", "edm-port", PortOptions{})
	require.NoError(t, err)

	edm.queue("10000 0900000 0000000 83", "10010 0900000 0000000 83")
	_, err = svc.SetCircleCentre(ctx, "edm")
	assert.ErrorIs(t, err, ErrInconsistentReadings)

	rec, err := svc.GetCalibration(ctx, "edm")
	require.NoError(t, err)
	assert.False(t, rec.IsCentreSet)
}

func TestServiceMeasureThrowRequiresCalibration(t *testing.T) {
	edm := &scriptedEDM{}
	svc, _ := newTestService(t, map[string]io.ReadWriteCloser{"edm-port": edm})
	ctx := context.Background()
	_, err := svc.ConnectSerialDevice(ctx, "edm", "edm-port", PortOptions{})
	require.NoError(t, err)

	_, err = svc.MeasureThrow(ctx, "edm", backend.ThrowRequest{})
	assert.ErrorIs(t, err, backend.ErrNotCalibrated)

	// Station at (10, 0); an edge at 1.0800m fails the 5mm tolerance.
	edm.queue("10000 0900000 1800000 83", "10000 0900000 1800000 83",
		"8920 0900000 1800000 83", "8920 0900000 1800000 83")
	_, err = svc.SetCircleCentre(ctx, "edm")
	require.NoError(t, err)
	rec, err := svc.VerifyCircleEdge(ctx, "edm")
	require.NoError(t, err)
	assert.False(t, rec.EdgeVerificationResult.IsInTolerance)

	_, err = svc.MeasureThrow(ctx, "edm", backend.ThrowRequest{})
	assert.ErrorIs(t, err, backend.ErrNotCalibrated)
	_, err = svc.TriggerDeviceRead(ctx, "edm", calibration.ReadCheckMark)
	assert.ErrorIs(t, err, calibration.ErrOutOfTolerance)
	assert.Equal(t, 4, edm.commands)
}

func TestServiceDemoMode(t *testing.T) {
	svc, clock := newTestService(t, nil, WithDemoMode(true))
	ctx := context.Background()

	rec, err := svc.SetCircleCentre(ctx, "edm")
	require.NoError(t, err)
	d := FromCentre(rec.StationCoordinates)
	assert.True(t, d > 7.9 && d < 15.1, "station distance %v", d)

	rec, err = svc.VerifyCircleEdge(ctx, "edm")
	require.NoError(t, err)
	require.NotNil(t, rec.EdgeVerificationResult)
	assert.InDelta(t, calibration.UkaRadiusShot, rec.EdgeVerificationResult.MeasuredRadius, 0.02)

	th, err := svc.MeasureThrow(ctx, "edm", backend.ThrowRequest{})
	require.NoError(t, err)
	assert.True(t, th.Coordinate.Distance > 7.5 && th.Coordinate.Distance < 18.5, "distance %v", th.Coordinate.Distance)
	assert.True(t, strings.HasSuffix(th.Mark, " m"))

	assert.Equal(t, []time.Duration{CentreDelay, EdgeDelay, ThrowDelay}, clock.Sleeps())

	wind, err := svc.MeasureWind(ctx, Wind)
	require.NoError(t, err)
	assert.Regexp(t, `^[+-]\d\.\d m/s$`, wind)
}

func TestServiceDemoHeatmap(t *testing.T) {
	svc, _ := newTestService(t, nil, WithDemoMode(true))
	ctx := context.Background()

	_, err := svc.ExportHeatmapData(ctx, calibration.Shot, 1.0)
	assert.ErrorIs(t, err, backend.ErrNoCoordinates)

	_, err = svc.SetCircleCentre(ctx, "edm")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := svc.MeasureThrow(ctx, "edm", backend.ThrowRequest{Round: "1"})
		require.NoError(t, err)
	}
	d, err := svc.ExportHeatmapData(ctx, calibration.Shot, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 5, d.TotalThrows)

	_, err = svc.ExportHeatmapData(ctx, calibration.Discus, 2.0)
	assert.ErrorIs(t, err, backend.ErrNoCoordinates)
}

func TestServiceWindGauge(t *testing.T) {
	gauge := newWindPipe()
	svc, _ := newTestService(t, map[string]io.ReadWriteCloser{"wind-port": gauge})
	ctx := context.Background()

	_, err := svc.MeasureWind(ctx, Wind)
	assert.ErrorIs(t, err, backend.ErrNotConnected)

	_, err = svc.ConnectSerialDevice(ctx, Wind, "wind-port", PortOptions{})
	require.NoError(t, err)
	for _, line := range []string{"0,+1.0,m/s\n", "garbage\n", "0,+2.0,m/s\n"} {
		_, err := gauge.w.Write([]byte(line))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return svc.wind.Len() == 2 }, time.Second, 5*time.Millisecond)

	wind, err := svc.MeasureWind(ctx, Wind)
	require.NoError(t, err)
	assert.Equal(t, "+1.5 m/s", wind)

	_, err = svc.DisconnectDevice(Wind)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.wind.Len())
	_, err = svc.DisconnectDevice(Wind)
	assert.ErrorIs(t, err, backend.ErrNotConnected)
}

func TestServiceSaveCalibrationValidates(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	bad := calibration.DefaultRecord("edm")
	bad.EdgeVerificationResult = &calibration.Verdict{IsInTolerance: true}
	assert.ErrorIs(t, svc.SaveCalibration(ctx, "edm", bad), calibration.ErrInvalidRecord)

	good := calibration.DefaultRecord("edm")
	good.SelectedCircleType = calibration.Discus
	good.TargetRadius = calibration.UkaRadiusDiscus
	require.NoError(t, svc.SaveCalibration(ctx, "edm", good))
	got, err := svc.GetCalibration(ctx, "edm")
	require.NoError(t, err)
	assert.Equal(t, calibration.Discus, got.SelectedCircleType)

	require.NoError(t, svc.ResetCalibration(ctx, "edm"))
	got, err = svc.GetCalibration(ctx, "edm")
	require.NoError(t, err)
	assert.Equal(t, calibration.Discus, got.SelectedCircleType, "reset keeps the circle")
	assert.Equal(t, calibration.UkaRadiusDiscus, got.TargetRadius)
	assert.False(t, got.IsCentreSet)
}

func TestServiceDemoPauseHonoursContext(t *testing.T) {
	svc := NewService(throws.NewTracker(throws.NewMemoryStore(), timeutil.RealClock{}),
		WithClock(timeutil.RealClock{}), WithSeed(7), WithDemoMode(true))
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := svc.SetCircleCentre(ctx, "edm")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), CentreDelay, "the simulated delay is cut short")

	mock, clock := newTestService(t, nil, WithDemoMode(true))
	done, stop := context.WithCancel(context.Background())
	stop()
	_, err = mock.SetCircleCentre(done, "edm")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, clock.Sleeps())
}

// silentSerial behaves like a serial port whose device never answers: a read
// waits out the read timeout and then reports zero bytes without an error.
type silentSerial struct {
	mu       sync.Mutex
	timeouts []time.Duration
}

func (s *silentSerial) SetReadTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts = append(s.timeouts, d)
	return nil
}

func (s *silentSerial) Read([]byte) (int, error) {
	s.mu.Lock()
	d := time.Millisecond
	if n := len(s.timeouts); n > 0 {
		d = s.timeouts[n-1]
	}
	s.mu.Unlock()
	time.Sleep(d)
	return 0, nil
}

func (s *silentSerial) Write(p []byte) (int, error) { return len(p), nil }
func (s *silentSerial) Close() error                { return nil }

func TestSilentSerialReadTimesOut(t *testing.T) {
	port := &silentSerial{}
	c := newConn("edm", ConnSerial, "/dev/ttyUSB0", port)

	start := time.Now()
	_, err := c.readLine(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start = time.Now()
	_, err = c.readLine(ctx, readTimeout)
	assert.True(t, errors.Is(err, ErrReadTimeout) || errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), time.Second, "the caller's deadline wins over the 10s read timeout")

	port.mu.Lock()
	defer port.mu.Unlock()
	require.NotEmpty(t, port.timeouts)
	for _, d := range port.timeouts {
		assert.LessOrEqual(t, d, readPoll)
	}
}

func TestSilentSerialReleasesService(t *testing.T) {
	port := &silentSerial{}
	svc, _ := newTestService(t, map[string]io.ReadWriteCloser{"/dev/ttyUSB0": port})
	_, err := svc.ConnectSerialDevice(context.Background(), "edm", "/dev/ttyUSB0", PortOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = svc.SetCircleCentre(ctx, "edm")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReadLineKeepsBytesAfterTheLine(t *testing.T) {
	edm := &scriptedEDM{}
	edm.out.WriteString("first\r\nsecond\n")
	c := newConn("edm", ConnSerial, "/dev/ttyUSB0", edm)

	line, err := c.readLine(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", line)
	line, err = c.readLine(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", line)
}
