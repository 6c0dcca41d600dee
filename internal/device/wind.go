package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/KingstonPolyAC/PolyField/internal/log"
	"github.com/KingstonPolyAC/PolyField/internal/timeutil"
)

const (
	// windBufferSize holds about two minutes at one reading per second.
	windBufferSize = 120
	windWindow     = 5 * time.Second
)

var ErrNoWindReadings = errors.New("no wind readings in the last 5 seconds")

// ParseWind extracts the signed speed from a gauge line such as
// "0,+1.2,m/s". Lines without a signed second field are not readings.
func ParseWind(raw string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) < 2 || !(strings.HasPrefix(parts[1], "+") || strings.HasPrefix(parts[1], "-")) {
		return 0, false
	}
	v, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatWind renders a speed the way the scoreboard shows it.
func FormatWind(v float64) string {
	return fmt.Sprintf("%+.1f m/s", v)
}

type windSample struct {
	value float64
	at    time.Time
}

// WindBuffer keeps the most recent gauge readings.
type WindBuffer struct {
	clock timeutil.Clock

	mu      sync.Mutex
	samples []windSample
}

func NewWindBuffer(clock timeutil.Clock) *WindBuffer {
	return &WindBuffer{clock: clock}
}

func (b *WindBuffer) Add(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, windSample{value: v, at: b.clock.Now()})
	if len(b.samples) > windBufferSize {
		b.samples = b.samples[len(b.samples)-windBufferSize:]
	}
}

func (b *WindBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Average is the mean of the readings taken in the last five seconds.
func (b *WindBuffer) Average() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	since := b.clock.Now().Add(-windWindow)
	recent := lo.FilterMap(b.samples, func(s windSample, _ int) (float64, bool) {
		return s.value, s.at.After(since)
	})
	if len(recent) == 0 {
		return 0, ErrNoWindReadings
	}
	return stat.Mean(recent, nil), nil
}

func (b *WindBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}

// listenWind feeds gauge lines into buf until ctx is done or the link closes.
func listenWind(ctx context.Context, c *conn, buf *WindBuffer) {
	defer c.listener.Done()
	scanner := bufio.NewScanner(c.reader)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			log.Logger.Info("stopping wind listener", log.String("device", c.id))
			return
		default:
		}
		if v, ok := ParseWind(scanner.Text()); ok {
			buf.Add(v)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Logger.Warn("wind listener stopped", log.String("device", c.id), log.ErrorField(err))
	}
}
