package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var readCommand = []byte{0x11, 0x0d, 0x0a}

const (
	// pairToleranceMm is how far two slope distances in a pair may differ.
	pairToleranceMm = 3.0
	pairDelay       = 250 * time.Millisecond
	readTimeout     = 10 * time.Second
)

var ErrInconsistentReadings = errors.New("readings inconsistent")

// Reading is one EDM observation: slope distance in millimetres, vertical
// and horizontal angles in decimal degrees.
type Reading struct {
	SlopeDistanceMm float64 `json:"slopeDistanceMm"`
	VAzDecimal      float64 `json:"vAzDecimal"`
	HARDecimal      float64 `json:"harDecimal"`
}

// String is the compact form stored alongside each throw.
func (r Reading) String() string {
	return fmt.Sprintf("%.0f %.6f %.6f", r.SlopeDistanceMm, r.VAzDecimal, r.HARDecimal)
}

// ParseAngle decodes a DDDMMSS angle. A six digit value has an implied
// leading zero.
func ParseAngle(s string) (float64, error) {
	if len(s) < 6 || len(s) > 7 {
		return 0, fmt.Errorf("invalid angle string length: got %d for %q", len(s), s)
	}
	if len(s) == 6 {
		s = "0" + s
	}
	ddd, err := strconv.Atoi(s[0:3])
	if err != nil {
		return 0, fmt.Errorf("invalid degrees in %q: %w", s, err)
	}
	mm, err := strconv.Atoi(s[3:5])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in %q: %w", s, err)
	}
	ss, err := strconv.Atoi(s[5:7])
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in %q: %w", s, err)
	}
	if mm >= 60 || ss >= 60 {
		return 0, fmt.Errorf("invalid angle values (MM or SS >= 60) in %q", s)
	}
	return float64(ddd) + float64(mm)/60.0 + float64(ss)/3600.0, nil
}

// ParseReading decodes an EDM response line of the form
// "<sd mm> <VAz DDDMMSS> <HAR DDDMMSS> <status>".
func ParseReading(raw string) (Reading, error) {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) < 4 {
		return Reading{}, fmt.Errorf("malformed response, got %d parts", len(parts))
	}
	sd, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid slope distance %q: %w", parts[0], err)
	}
	vaz, err := ParseAngle(parts[1])
	if err != nil {
		return Reading{}, err
	}
	har, err := ParseAngle(parts[2])
	if err != nil {
		return Reading{}, err
	}
	return Reading{SlopeDistanceMm: sd, VAzDecimal: vaz, HARDecimal: har}, nil
}

// averagePair accepts two readings whose slope distances agree.
func averagePair(r1, r2 Reading) (Reading, error) {
	if math.Abs(r1.SlopeDistanceMm-r2.SlopeDistanceMm) > pairToleranceMm {
		return Reading{}, fmt.Errorf("%w. R1(SD): %.0fmm, R2(SD): %.0fmm",
			ErrInconsistentReadings, r1.SlopeDistanceMm, r2.SlopeDistanceMm)
	}
	return Reading{
		SlopeDistanceMm: (r1.SlopeDistanceMm + r2.SlopeDistanceMm) / 2,
		VAzDecimal:      (r1.VAzDecimal + r2.VAzDecimal) / 2,
		HARDecimal:      (r1.HARDecimal + r2.HARDecimal) / 2,
	}, nil
}

// readOnce triggers one measurement. The caller holds c.mu.
func (c *conn) readOnce(ctx context.Context) (Reading, error) {
	if err := c.write(readCommand); err != nil {
		return Reading{}, err
	}
	line, err := c.readLine(ctx, readTimeout)
	if err != nil {
		return Reading{}, err
	}
	return ParseReading(line)
}

// readRaw returns one unparsed response line.
func (c *conn) readRaw(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(readCommand); err != nil {
		return "", err
	}
	return c.readLine(ctx, readTimeout)
}

// reliableReading takes two readings pairDelay apart and averages them.
func (s *Service) reliableReading(ctx context.Context, c *conn) (Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r1, err := c.readOnce(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("first read failed: %w", err)
	}
	if err := s.pause(ctx, pairDelay); err != nil {
		return Reading{}, err
	}
	r2, err := c.readOnce(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("second read failed: %w", err)
	}
	return averagePair(r1, r2)
}
