package journeyapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

// MockHTTPDoer is a mock implementation of HTTPDoer
type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

// Helper function to load test fixture data
func loadTestFixture(t *testing.T, filename string) string {
	data, err := os.ReadFile("testdata/" + filename)
	require.NoError(t, err, "Failed to load test fixture %s", filename)
	return string(data)
}

// Helper function to create mock HTTP response
func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func requestTo(method, path string) any {
	return mock.MatchedBy(func(req *http.Request) bool {
		return req.Method == method && req.URL.Path == path
	})
}

func TestFetchRoute_EncodedPolyline(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", requestTo("GET", "/v1/journeys/gold-country-loop/route")).Return(
		createMockResponse(200, loadTestFixture(t, "route_polyline.json")), nil)

	client := NewClientWithHTTPDoer("https://api.example.com/v1", "", mockHTTP)
	points, err := client.FetchRoute(context.Background(), "gold-country-loop")

	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Latitude, 1e-5)
	assert.InDelta(t, -120.2, points[0].Longitude, 1e-5)
	mockHTTP.AssertExpectations(t)
}

func TestFetchRoute_Points(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, loadTestFixture(t, "route_points.json")), nil)

	client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
	points, err := client.FetchRoute(context.Background(), "equator-mile")

	require.NoError(t, err)
	assert.Equal(t, []geo.Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 0.005},
		{Latitude: 0, Longitude: 0.01},
	}, points)
}

func TestFetchLandmarks(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", requestTo("GET", "/journeys/gold-country-loop/landmarks")).Return(
		createMockResponse(200, loadTestFixture(t, "landmarks.json")), nil)

	client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
	landmarks, err := client.FetchLandmarks(context.Background(), "gold-country-loop")

	require.NoError(t, err)
	require.Len(t, landmarks, 3)
	assert.Equal(t, "Murphys", landmarks[1].Name)
	require.NotNil(t, landmarks[1].DistanceFromStartMeters)
	assert.Equal(t, 11046.2, *landmarks[1].DistanceFromStartMeters)
	assert.Nil(t, landmarks[2].DistanceFromStartMeters, "missing offset must stay nil")
}

func TestFetchProgressState(t *testing.T) {
	t.Run("numeric session id", func(t *testing.T) {
		mockHTTP := &MockHTTPDoer{}
		mockHTTP.On("Do", requestTo("GET", "/users/u-1/journeys/j-1/progress")).Return(
			createMockResponse(200, loadTestFixture(t, "progress_numeric_id.json")), nil)

		client := NewClientWithHTTPDoer("https://api.example.com", "secret", mockHTTP)
		state, err := client.FetchProgressState(context.Background(), "u-1", "j-1")

		require.NoError(t, err)
		assert.Equal(t, journey.SessionID("90210"), state.SessionID)
		require.NotNil(t, state.Percent)
		assert.Equal(t, 37.5, *state.Percent)
		assert.Equal(t, 3, state.RunningTogetherCount)

		req := mockHTTP.Calls[0].Arguments.Get(0).(*http.Request)
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	})

	t.Run("missing percent", func(t *testing.T) {
		mockHTTP := &MockHTTPDoer{}
		mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
			createMockResponse(200, loadTestFixture(t, "progress_missing_percent.json")), nil)

		client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
		state, err := client.FetchProgressState(context.Background(), "u-1", "j-1")

		require.NoError(t, err)
		assert.Equal(t, journey.SessionID("ps_7f3a"), state.SessionID)
		assert.Nil(t, state.Percent)
		assert.Equal(t, 500.0, *state.ProgressMeters)
	})

	t.Run("escapes path segments", func(t *testing.T) {
		mockHTTP := &MockHTTPDoer{}
		mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
			return req.URL.EscapedPath() == "/users/a%2Fb/journeys/j/progress"
		})).Return(createMockResponse(200, `{"session_id":"1"}`), nil)

		client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
		_, err := client.FetchProgressState(context.Background(), "a/b", "j")
		require.NoError(t, err)
	})
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
	}{
		{"transport failure", nil, errors.New("dial tcp: connection refused")},
		{"server error", createMockResponse(503, "unavailable"), nil},
		{"rate limited", createMockResponse(429, ""), nil},
		{"not found", createMockResponse(404, `{"error":"no progress"}`), nil},
		{"malformed body", createMockResponse(200, `{"session_id":`), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockHTTP := &MockHTTPDoer{}
			mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(tt.resp, tt.err)

			client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
			_, err := client.FetchProgressState(context.Background(), "u-1", "j-1")

			require.Error(t, err)
			assert.ErrorIs(t, err, journey.ErrNetworkFailure)
			assert.Equal(t, codes.Unavailable, journey.StatusCode(err))
		})
	}
}

func TestCollectStamp(t *testing.T) {
	fix := &geo.Point{Latitude: 38.1396, Longitude: -120.456}
	req := journey.CollectRequest{
		SessionID:      "90210",
		LandmarkID:     "lm-murphys",
		LiveCoordinate: fix,
		IdempotencyKey: "5f0c7a4e-7c55-4a8e-9a53-1a7d0a0f4c11",
	}

	t.Run("collected", func(t *testing.T) {
		mockHTTP := &MockHTTPDoer{}
		mockHTTP.On("Do", requestTo("POST", "/progress-sessions/90210/stamps")).Return(
			createMockResponse(200, `{"collected":true}`), nil)

		client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
		outcome, err := client.CollectStamp(context.Background(), req)

		require.NoError(t, err)
		assert.True(t, outcome.Collected)

		sent := mockHTTP.Calls[0].Arguments.Get(0).(*http.Request)
		assert.Equal(t, req.IdempotencyKey, sent.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", sent.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(sent.Body).Decode(&body))
		assert.Equal(t, "lm-murphys", body["landmark_id"])
		assert.Equal(t, map[string]any{"lat": 38.1396, "lng": -120.456}, body["live_coordinate"])
	})

	t.Run("rejected", func(t *testing.T) {
		for _, status := range []int{409, 422} {
			mockHTTP := &MockHTTPDoer{}
			mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
				createMockResponse(status, `{"collected":false,"reason":"insufficient_progress"}`), nil)

			client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
			outcome, err := client.CollectStamp(context.Background(), req)

			require.NoError(t, err)
			assert.False(t, outcome.Collected)
			assert.Equal(t, journey.ReasonInsufficientProgress, outcome.Reason)
		}
	})

	t.Run("server error", func(t *testing.T) {
		mockHTTP := &MockHTTPDoer{}
		mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(createMockResponse(500, "boom"), nil)

		client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
		_, err := client.CollectStamp(context.Background(), req)
		assert.ErrorIs(t, err, journey.ErrNetworkFailure)
	})

	t.Run("without live fix", func(t *testing.T) {
		mockHTTP := &MockHTTPDoer{}
		mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
			createMockResponse(200, `{"collected":true}`), nil)

		client := NewClientWithHTTPDoer("https://api.example.com", "", mockHTTP)
		_, err := client.CollectStamp(context.Background(), journey.CollectRequest{SessionID: "1", LandmarkID: "x"})
		require.NoError(t, err)

		sent := mockHTTP.Calls[0].Arguments.Get(0).(*http.Request)
		var body map[string]any
		require.NoError(t, json.NewDecoder(sent.Body).Decode(&body))
		assert.NotContains(t, body, "live_coordinate")
		assert.Empty(t, sent.Header.Get("Idempotency-Key"))
	})
}
