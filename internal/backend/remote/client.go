// Package remote implements backend.Backend against a device server's HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/KingstonPolyAC/PolyField/internal/backend"
	"github.com/KingstonPolyAC/PolyField/internal/calibration"
	"github.com/KingstonPolyAC/PolyField/internal/heatmap"
	"github.com/KingstonPolyAC/PolyField/internal/throws"
)

const apiPrefix = "/api/v1"

// sentinels are matched by message so errors keep their identity across
// the wire.
var sentinels = []error{
	backend.ErrNoCoordinates,
	backend.ErrNotConnected,
	backend.ErrNotCalibrated,
	calibration.ErrStepOrder,
	calibration.ErrOutOfTolerance,
	calibration.ErrInvalidRecord,
	calibration.ErrInvalidRadius,
	heatmap.ErrInvalidGridSize,
}

// APIError is a non-2xx response from the device server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device server returned %d", e.Status)
	}
	return e.Message
}

func (e *APIError) Is(target error) bool {
	for _, s := range sentinels {
		if target == s {
			return strings.Contains(e.Message, s.Error())
		}
	}
	return false
}

type Client struct {
	base string
	http *http.Client
}

var _ backend.Backend = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New returns a client for the server at address, either host:port or a
// full http URL.
func New(address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errors.New("backend address is empty")
	}
	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		u = &url.URL{Scheme: "http", Host: address}
	}
	c := &Client{
		base: u.Scheme + "://" + u.Host + apiPrefix,
		http: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach device server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil {
			apiErr.Message = eb.Error
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func devicePath(deviceID, action string) string {
	return "/devices/" + url.PathEscape(deviceID) + "/" + action
}

func (c *Client) SetCircleCentre(ctx context.Context, deviceID string) (*calibration.Record, error) {
	var r calibration.Record
	if err := c.do(ctx, http.MethodPost, devicePath(deviceID, "centre"), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) VerifyCircleEdge(ctx context.Context, deviceID string) (*calibration.Record, error) {
	var r calibration.Record
	if err := c.do(ctx, http.MethodPost, devicePath(deviceID, "edge"), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) TriggerDeviceRead(ctx context.Context, deviceID string, rc calibration.ReadContext) (string, error) {
	var v struct {
		Value string `json:"value"`
	}
	q := url.Values{"context": {string(rc)}}
	if err := c.do(ctx, http.MethodPost, devicePath(deviceID, "read"), q, nil, &v); err != nil {
		return "", err
	}
	return v.Value, nil
}

func (c *Client) GetCalibration(ctx context.Context, deviceID string) (*calibration.Record, error) {
	var r calibration.Record
	if err := c.do(ctx, http.MethodGet, devicePath(deviceID, "calibration"), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) SaveCalibration(ctx context.Context, deviceID string, r calibration.Record) error {
	return c.do(ctx, http.MethodPut, devicePath(deviceID, "calibration"), nil, r, nil)
}

func (c *Client) ResetCalibration(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodDelete, devicePath(deviceID, "calibration"), nil, nil, nil)
}

func (c *Client) MeasureThrow(ctx context.Context, deviceID string, req backend.ThrowRequest) (backend.Throw, error) {
	var t backend.Throw
	err := c.do(ctx, http.MethodPost, devicePath(deviceID, "throw"), nil, req, &t)
	return t, err
}

func (c *Client) MeasureWind(ctx context.Context, deviceID string) (string, error) {
	var v struct {
		Value string `json:"value"`
	}
	if err := c.do(ctx, http.MethodPost, devicePath(deviceID, "wind"), nil, nil, &v); err != nil {
		return "", err
	}
	return v.Value, nil
}

// ExportHeatmapData returns backend.ErrNoCoordinates, through APIError.Is,
// when the server has no throws for the circle type.
func (c *Client) ExportHeatmapData(ctx context.Context, circleType calibration.CircleType, gridSize float64) (heatmap.Data, error) {
	q := url.Values{
		"circleType": {string(circleType)},
		"gridSize":   {strconv.FormatFloat(gridSize, 'f', -1, 64)},
	}
	var d heatmap.Data
	if err := c.do(ctx, http.MethodGet, "/heatmap", q, nil, &d); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound && apiErr.Message == "" {
			apiErr.Message = backend.ErrNoCoordinates.Error()
		}
		return heatmap.Data{}, err
	}
	return d, nil
}

func (c *Client) Throws(ctx context.Context, circleType calibration.CircleType) ([]throws.Coordinate, error) {
	var q url.Values
	if circleType != "" {
		q = url.Values{"circleType": {string(circleType)}}
	}
	var coords []throws.Coordinate
	if err := c.do(ctx, http.MethodGet, "/throws", q, nil, &coords); err != nil {
		return nil, err
	}
	return coords, nil
}
