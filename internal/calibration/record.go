package calibration

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ReadContext tells the device backend what a raw read is for.
type ReadContext string

const (
	ReadEdgeMeasurement ReadContext = "edge_measurement"
	ReadCheckMark       ReadContext = "check_mark"
)

func ParseReadContext(s string) (ReadContext, error) {
	switch rc := ReadContext(s); rc {
	case ReadEdgeMeasurement, ReadCheckMark:
		return rc, nil
	}
	return "", fmt.Errorf("unknown read context %q", s)
}

// Record is the calibration as exchanged with the device backend.
type Record struct {
	DeviceID               string     `json:"deviceId"`
	Timestamp              time.Time  `json:"timestamp"`
	SelectedCircleType     CircleType `json:"selectedCircleType"`
	TargetRadius           float64    `json:"targetRadius"`
	StationCoordinates     Point      `json:"stationCoordinates"`
	IsCentreSet            bool       `json:"isCentreSet"`
	EdgeVerificationResult *Verdict   `json:"edgeVerificationResult,omitempty"`
	CheckMarkValue         *string    `json:"checkMarkValue,omitempty"`
}

var ErrInvalidRecord = errors.New("invalid calibration record")

// DefaultRecord is what a device reports before it has ever been calibrated.
func DefaultRecord(deviceID string) Record {
	return ToRecord(deviceID, CircleSelected{Circle: DefaultCircle()})
}

// ToRecord flattens a state into its wire form.
func ToRecord(deviceID string, s State) Record {
	c := s.circle()
	r := Record{
		DeviceID:           deviceID,
		SelectedCircleType: c.Type,
		TargetRadius:       c.Radius,
	}
	if cs, ok := centreOf(s); ok {
		r.IsCentreSet = true
		r.StationCoordinates = cs.Station
		r.Timestamp = cs.SetAt
	}
	if e, ok := edgeOf(s); ok {
		v := e.Edge
		r.EdgeVerificationResult = &v
	}
	if cm, ok := s.(CheckMarkRecorded); ok {
		v := cm.CheckMark
		r.CheckMarkValue = &v
	}
	return r
}

// FromRecord rebuilds the tagged state and rejects combinations that no
// sequence of steps can produce. An empty circle type falls back to the
// default circle.
func FromRecord(r Record) (State, error) {
	c, err := r.circle()
	if err != nil {
		return nil, err
	}
	var s State = CircleSelected{Circle: c}

	if !r.IsCentreSet {
		if r.EdgeVerificationResult != nil {
			return nil, fmt.Errorf("%w: edge verification present without a centre", ErrInvalidRecord)
		}
		if r.CheckMarkValue != nil {
			return nil, fmt.Errorf("%w: check mark present without a centre", ErrInvalidRecord)
		}
		return s, nil
	}
	cs := CentreSet{CircleSelected: CircleSelected{Circle: c}, Station: r.StationCoordinates, SetAt: r.Timestamp}
	s = cs

	if r.EdgeVerificationResult == nil {
		if r.CheckMarkValue != nil {
			return nil, fmt.Errorf("%w: check mark present without edge verification", ErrInvalidRecord)
		}
		return s, nil
	}
	ev := EdgeVerified{CentreSet: cs, Edge: *r.EdgeVerificationResult}
	s = ev

	if r.CheckMarkValue == nil {
		return s, nil
	}
	if !ev.Edge.IsInTolerance {
		return nil, fmt.Errorf("%w: check mark present with an out-of-tolerance edge", ErrInvalidRecord)
	}
	return CheckMarkRecorded{EdgeVerified: ev, CheckMark: *r.CheckMarkValue}, nil
}

func (r Record) circle() (Circle, error) {
	if r.SelectedCircleType == "" {
		return DefaultCircle(), nil
	}
	t, err := ParseCircleType(string(r.SelectedCircleType))
	if err != nil {
		return Circle{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if t == Custom {
		return NewCircle(Custom, r.TargetRadius)
	}
	if math.IsNaN(r.TargetRadius) || r.TargetRadius < 0 {
		return Circle{}, fmt.Errorf("%w: %v", ErrInvalidRadius, r.TargetRadius)
	}
	// Regulation circles always use the table radius.
	return NewCircle(t, 0)
}
