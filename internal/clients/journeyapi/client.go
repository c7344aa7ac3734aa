package journeyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

// HTTPDoer is the subset of *http.Client used by Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the journey backend's REST API and implements journey.Backend
type Client struct {
	baseURL    string
	authToken  string
	httpClient HTTPDoer
}

var _ journey.Backend = (*Client)(nil)

// NewClient creates a new journey API client
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return NewClientWithHTTPDoer(baseURL, authToken, &http.Client{Timeout: timeout})
}

// NewClientWithHTTPDoer creates a client with a custom HTTP implementation
func NewClientWithHTTPDoer(baseURL, authToken string, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: doer,
	}
}

type pointJSON struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type routeResponse struct {
	EncodedPolyline string      `json:"encoded_polyline"`
	Points          []pointJSON `json:"points"`
}

type landmarkJSON struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	Lat                     float64  `json:"lat"`
	Lng                     float64  `json:"lng"`
	DistanceFromStartMeters *float64 `json:"distance_from_start_meters"`
}

type landmarksResponse struct {
	Landmarks []landmarkJSON `json:"landmarks"`
}

type progressResponse struct {
	SessionID       sessionID `json:"session_id"`
	Percent         *float64  `json:"percent"`
	ProgressMeters  *float64  `json:"progress_meters"`
	RunningTogether int       `json:"running_together"`
}

type collectRequest struct {
	LandmarkID     string     `json:"landmark_id"`
	LiveCoordinate *pointJSON `json:"live_coordinate,omitempty"`
}

type collectResponse struct {
	Collected bool   `json:"collected"`
	Reason    string `json:"reason"`
}

// sessionID accepts numeric and string ids and renders both as a decimal string
type sessionID string

func (s *sessionID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = sessionID(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("invalid session id %s: %w", data, err)
	}
	if n, err := num.Int64(); err == nil {
		*s = sessionID(strconv.FormatInt(n, 10))
		return nil
	}
	*s = sessionID(num.String())
	return nil
}

// FetchRoute returns the ordered waypoints of a journey. The backend may send
// an encoded polyline, explicit points, or both; the polyline wins.
func (c *Client) FetchRoute(ctx context.Context, journeyID string) ([]geo.Point, error) {
	var resp routeResponse
	if err := c.getJSON(ctx, "/journeys/"+url.PathEscape(journeyID)+"/route", &resp); err != nil {
		return nil, err
	}

	if resp.EncodedPolyline != "" {
		points, err := geo.DecodePolyline(resp.EncodedPolyline)
		if err != nil {
			return nil, fmt.Errorf("failed to decode route: %w", err)
		}
		return points, nil
	}

	points := make([]geo.Point, len(resp.Points))
	for i, p := range resp.Points {
		points[i] = geo.Point{Latitude: p.Lat, Longitude: p.Lng}
	}
	return points, nil
}

// FetchLandmarks returns a journey's landmarks
func (c *Client) FetchLandmarks(ctx context.Context, journeyID string) ([]journey.Landmark, error) {
	var resp landmarksResponse
	if err := c.getJSON(ctx, "/journeys/"+url.PathEscape(journeyID)+"/landmarks", &resp); err != nil {
		return nil, err
	}

	landmarks := make([]journey.Landmark, len(resp.Landmarks))
	for i, l := range resp.Landmarks {
		landmarks[i] = journey.Landmark{
			ID:                      l.ID,
			Name:                    l.Name,
			Position:                geo.Point{Latitude: l.Lat, Longitude: l.Lng},
			DistanceFromStartMeters: l.DistanceFromStartMeters,
		}
	}
	return landmarks, nil
}

// FetchProgressState returns the authoritative progress for a user on a journey
func (c *Client) FetchProgressState(ctx context.Context, userID, journeyID string) (journey.ProgressState, error) {
	var resp progressResponse
	path := "/users/" + url.PathEscape(userID) + "/journeys/" + url.PathEscape(journeyID) + "/progress"
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return journey.ProgressState{}, err
	}

	return journey.ProgressState{
		SessionID:            journey.SessionID(resp.SessionID),
		Percent:              resp.Percent,
		ProgressMeters:       resp.ProgressMeters,
		RunningTogetherCount: resp.RunningTogether,
	}, nil
}

// CollectStamp asks the backend to record a stamp. Rejections are returned as
// an outcome with a reason; only transport and server failures are errors.
func (c *Client) CollectStamp(ctx context.Context, req journey.CollectRequest) (journey.CollectOutcome, error) {
	body := collectRequest{LandmarkID: req.LandmarkID}
	if req.LiveCoordinate != nil {
		body.LiveCoordinate = &pointJSON{Lat: req.LiveCoordinate.Latitude, Lng: req.LiveCoordinate.Longitude}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return journey.CollectOutcome{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	path := "/progress-sessions/" + url.PathEscape(string(req.SessionID)) + "/stamps"
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(jsonBody))
	if err != nil {
		return journey.CollectOutcome{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return journey.CollectOutcome{}, fmt.Errorf("%w: failed to execute request: %w", journey.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	// 409 and 422 carry a rejection reason rather than a failure
	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity {
		var rejected collectResponse
		if err := json.NewDecoder(resp.Body).Decode(&rejected); err != nil {
			return journey.CollectOutcome{}, fmt.Errorf("%w: failed to decode rejection: %w", journey.ErrNetworkFailure, err)
		}
		return journey.CollectOutcome{Reason: journey.RejectionReason(rejected.Reason)}, nil
	}
	if err := checkStatus(resp); err != nil {
		return journey.CollectOutcome{}, err
	}

	var out collectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return journey.CollectOutcome{}, fmt.Errorf("%w: failed to decode response: %w", journey.ErrNetworkFailure, err)
	}
	return journey.CollectOutcome{Collected: out.Collected, Reason: journey.RejectionReason(out.Reason)}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to execute request: %w", journey.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", journey.ErrNetworkFailure, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: rate limit exceeded", journey.ErrNetworkFailure)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: API error %d: %s", journey.ErrNetworkFailure, resp.StatusCode, string(body))
	}
	return nil
}
