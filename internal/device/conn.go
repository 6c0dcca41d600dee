// Package device talks to the field hardware: the EDM used to calibrate the
// circle and measure throws, the wind gauge and the scoreboard. Service ties
// them together as the local backend.
package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Device IDs with special behaviour. Any other ID is treated as an EDM.
const (
	Wind       = "wind"
	Scoreboard = "scoreboard"
)

const (
	ConnSerial  = "serial"
	ConnNetwork = "network"

	dialTimeout = 5 * time.Second

	// readPoll bounds each blocking serial read so a silent device cannot
	// outlive the read deadline or the caller's context.
	readPoll = 100 * time.Millisecond
)

var ErrReadTimeout = errors.New("device did not answer in time")

// PortOptions are the serial line settings. Zero values take the field
// hardware defaults of 9600 baud, 8 data bits, 1 stop bit and no parity.
type PortOptions struct {
	BaudRate int    `json:"baudRate" mapstructure:"baud_rate"`
	DataBits int    `json:"dataBits" mapstructure:"data_bits"`
	StopBits int    `json:"stopBits" mapstructure:"stop_bits"`
	Parity   string `json:"parity" mapstructure:"parity"`
}

// Normalize validates the options and fills in defaults.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = 9600
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}
	switch p := strings.ToUpper(strings.TrimSpace(o.Parity)); p {
	case "", "N", "NONE":
		o.Parity = "N"
	case "E", "EVEN":
		o.Parity = "E"
	case "O", "ODD":
		o.Parity = "O"
	default:
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return o, nil
}

// SerialMode converts the options for serial.Open.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: n.BaudRate, DataBits: n.DataBits, Parity: serial.NoParity}
	switch n.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	mode.StopBits = serial.OneStopBit
	if n.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}

// Opener opens device links. The system opener uses real ports and sockets;
// tests substitute pipes.
type Opener interface {
	ListPorts() ([]string, error)
	OpenSerial(name string, opts PortOptions) (io.ReadWriteCloser, error)
	Dial(ctx context.Context, address string) (io.ReadWriteCloser, error)
}

type systemOpener struct{}

// SystemOpener returns the Opener backed by go.bug.st/serial and TCP.
func SystemOpener() Opener { return systemOpener{} }

func (systemOpener) ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (systemOpener) OpenSerial(name string, opts PortOptions) (io.ReadWriteCloser, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	return serial.Open(name, mode)
}

func (systemOpener) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "tcp", address)
}

// conn is one connected device. mu serialises request/response exchanges so
// two reads never interleave on the wire.
type conn struct {
	id       string
	kind     string
	address  string
	rw       io.ReadWriteCloser
	cancel   context.CancelFunc
	mu       sync.Mutex
	pending  []byte        // EDM bytes received past the last line
	reader   *bufio.Reader // wind listener only
	listener sync.WaitGroup
}

func newConn(id, kind, address string, rw io.ReadWriteCloser) *conn {
	return &conn{id: id, kind: kind, address: address, rw: rw, reader: bufio.NewReader(rw)}
}

// readLine waits at most timeout, or until ctx is done, for a CRLF or LF
// terminated line. Serial ports report an expired read timeout as an empty
// read rather than an error, so the loop polls in readPoll slices and checks
// the deadline itself.
func (c *conn) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if rw, ok := c.rw.(interface{ SetReadDeadline(time.Time) error }); ok {
		if err := rw.SetReadDeadline(deadline); err == nil {
			defer rw.SetReadDeadline(time.Time{})
		}
	}
	polled, _ := c.rw.(interface{ SetReadTimeout(time.Duration) error })

	chunk := make([]byte, 128)
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := string(c.pending[:i])
			c.pending = c.pending[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("%w after %v", ErrReadTimeout, timeout)
		}
		if polled != nil {
			_ = polled.SetReadTimeout(min(remaining, readPoll))
		}
		n, err := c.rw.Read(chunk)
		c.pending = append(c.pending, chunk[:n]...)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return "", fmt.Errorf("%w after %v", ErrReadTimeout, timeout)
			}
			return "", err
		}
	}
}

func (c *conn) write(p []byte) error {
	_, err := c.rw.Write(p)
	return err
}

func (c *conn) close() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.rw.Close()
	c.listener.Wait()
	return err
}
