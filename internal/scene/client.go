// Package scene talks to the external scene/world query service: element
// enumeration and frame resolution.
package scene

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
)

const (
	queryTimeout    = 5 * time.Second
	maxResponseSize = 4 << 20 // 4MB
)

// ErrQueryFailed wraps every failure of the scene service.
var ErrQueryFailed = errors.New("scene query failed")

// Element is a placed element of an area.
type Element struct {
	ID       uint64     `json:"id"`
	Type     uint64     `json:"type"`
	Position mgl64.Vec3 `json:"position"`
}

// PlayerPosition is a player's pose in its area frame and in world space.
type PlayerPosition struct {
	AreaID uint64     `json:"area_id"`
	Local  mgl64.Vec3 `json:"local"`
	World  mgl64.Vec3 `json:"world"`
}

// Client is an HTTP client for the scene service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a scene client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: queryTimeout},
	}
}

// ElementsByType lists the visible elements of an area with the given type tag.
func (c *Client) ElementsByType(ctx context.Context, areaID, typeID uint64) ([]Element, error) {
	var elems []Element
	url := fmt.Sprintf("%s/areas/%d/elements?type=%d", c.baseURL, areaID, typeID)
	if err := c.do(ctx, http.MethodGet, url, nil, &elems); err != nil {
		return nil, err
	}
	return elems, nil
}

type resolveBody struct {
	Position mgl64.Vec3 `json:"position"`
}

// ResolveWorldPosition converts a position relative to an area into world space.
func (c *Client) ResolveWorldPosition(ctx context.Context, areaID uint64, local mgl64.Vec3) (mgl64.Vec3, error) {
	var out resolveBody
	url := fmt.Sprintf("%s/areas/%d/resolve", c.baseURL, areaID)
	if err := c.do(ctx, http.MethodPost, url, resolveBody{Position: local}, &out); err != nil {
		return mgl64.Vec3{}, err
	}
	return out.Position, nil
}

// PlayerPosition returns the current pose of a player.
func (c *Client) PlayerPosition(ctx context.Context, playerID uint64) (PlayerPosition, error) {
	var out PlayerPosition
	url := fmt.Sprintf("%s/players/%d/position", c.baseURL, playerID)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return PlayerPosition{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %s: unexpected status code: %d", ErrQueryFailed, method, url, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrQueryFailed, err)
	}
	return nil
}
