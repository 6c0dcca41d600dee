package device

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/log"
)

// Simulated operator delays in demo mode.
const (
	CentreDelay = 2000 * time.Millisecond
	EdgeDelay   = 2000 * time.Millisecond
	ThrowDelay  = 1500 * time.Millisecond
)

// maxEdgeVariationMm keeps simulated edge readings inside the throws tolerance.
const maxEdgeVariationMm = 4.0

// throwRange is the simulated landing distance beyond the circle edge.
func throwRange(t calibration.CircleType) (lo, hi float64) {
	switch t {
	case calibration.Shot:
		return 8, 18
	case calibration.Discus:
		return 25, 65
	case calibration.Hammer:
		return 20, 75
	case calibration.JavelinArc:
		return 35, 85
	}
	return 15, 50
}

// simulator invents plausible EDM readings for one device. The station sits
// 8 to 15 m from the centre at a random bearing and stays put until the
// calibration changes.
type simulator struct {
	rng     *rand.Rand
	station calibration.Point
	centre  *Reading
}

func newSimulator(rng *rand.Rand) *simulator {
	d := 8.0 + rng.Float64()*7.0
	a := rng.Float64() * 2 * math.Pi
	sim := &simulator{rng: rng, station: calibration.Point{X: d * math.Cos(a), Y: d * math.Sin(a)}}
	log.Logger.Debug("demo station placed", log.Float64("stationX", sim.station.X), log.Float64("stationY", sim.station.Y))
	return sim
}

// noise returns a uniform value in [-span/2, span/2).
func (s *simulator) noise(span float64) float64 {
	return (s.rng.Float64() - 0.5) * span
}

func (s *simulator) perturb(r Reading, sdM, angle float64) Reading {
	r.SlopeDistanceMm += s.noise(sdM) * 1000.0
	r.HARDecimal += s.noise(angle)
	r.VAzDecimal += s.noise(angle)
	return r
}

func (s *simulator) centreReading() Reading {
	vaz := 88.0 + s.rng.Float64()*4.0
	r := s.perturb(ReadingTo(s.station, calibration.Point{}, vaz), 0.01, 0.1)
	s.centre = &r
	return r
}

func (s *simulator) baseVAz() float64 {
	if s.centre == nil {
		s.centreReading()
	}
	return s.centre.VAzDecimal
}

func (s *simulator) edgeReading(radius float64) Reading {
	vaz := s.baseVAz() + s.noise(1.0)
	r := radius + s.noise(maxEdgeVariationMm/1000.0)
	a := s.rng.Float64() * 2 * math.Pi
	edge := calibration.Point{X: r * math.Cos(a), Y: r * math.Sin(a)}
	return s.perturb(ReadingTo(s.station, edge, vaz), 0.005, 0.05)
}

func (s *simulator) throwReading(circle calibration.Circle) Reading {
	vaz := s.baseVAz() + s.noise(3.0)
	lo, hi := throwRange(circle.Type)
	d := lo + s.rng.Float64()*(hi-lo) + circle.Radius
	a := s.noise(math.Pi / 3)
	landing := calibration.Point{X: d * math.Cos(a), Y: d * math.Sin(a)}
	return s.perturb(ReadingTo(s.station, landing, vaz), 0.02, 0.1)
}

func (s *simulator) windReading() float64 {
	return s.rng.Float64()*4.0 - 2.0
}
