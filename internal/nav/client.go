package nav

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ugaemi/patrol-server/internal/geom"
)

const (
	queryTimeout    = 5 * time.Second
	maxResponseSize = 1 << 20 // 1MB
)

var (
	// ErrUnavailable means the navigation service could not be reached or
	// refused the query.
	ErrUnavailable = errors.New("navigation service unavailable")
	// ErrMalformedResponse means the service answered with something that is
	// not a list of [x, y, z] points.
	ErrMalformedResponse = errors.New("navigation response malformed")
)

// Planner computes a path between two points of an area.
type Planner interface {
	QueryPath(ctx context.Context, areaID uint64, origin, destination mgl64.Vec3) ([]mgl64.Vec3, error)
}

// Client queries an external navigation service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a navigation client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: queryTimeout,
		},
	}
}

type pathQuery struct {
	Origin      [3]float64 `json:"origin"`
	Destination [3]float64 `json:"destination"`
}

// QueryPath asks the service for a path from origin to destination. It does
// not retry; callers own the retry policy.
func (c *Client) QueryPath(ctx context.Context, areaID uint64, origin, destination mgl64.Vec3) ([]mgl64.Vec3, error) {
	body, err := json.Marshal(pathQuery{Origin: origin, Destination: destination})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/navigation/path/%d", c.baseURL, areaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status code: %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return decodePath(data)
}

func decodePath(data []byte) ([]mgl64.Vec3, error) {
	var raw [][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrMalformedResponse)
	}
	path, err := geom.FromSlices(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return path, nil
}
