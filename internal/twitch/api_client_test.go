package twitch

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHTTPClient struct {
	fn func(*http.Request) (*http.Response, error)
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return s.fn(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func stubClient(t *testing.T, fn func(*http.Request) (*http.Response, error)) *APIClient {
	t.Helper()

	client, err := helix.NewClient(&helix.Options{
		ClientID:        "client",
		UserAccessToken: "tok",
		HTTPClient:      &stubHTTPClient{fn: fn},
	})
	require.NoError(t, err)

	return &APIClient{Client: client, accessToken: "tok"}
}

func TestAccessToken(t *testing.T) {
	api, err := NewAPIClient("client", "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok", api.AccessToken())
}

func TestStartRaidParsesPlatformTimestamp(t *testing.T) {
	api := stubClient(t, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Contains(t, req.URL.Path, "/raids")
		return jsonResponse(http.StatusOK,
			`{"data":[{"created_at":"2024-06-01T20:00:00Z","is_mature":false}]}`), nil
	})

	info, err := api.StartRaid("self", "222")
	require.NoError(t, err)
	assert.True(t, info.CreatedAt.Equal(time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)))
}

func TestStartRaidEmptyResponse(t *testing.T) {
	api := stubClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":[]}`), nil
	})

	_, err := api.StartRaid("self", "222")
	require.ErrorIs(t, err, ErrRaid)
}

func TestCancelRaidIdempotent(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound} {
		api := stubClient(t, func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodDelete, req.Method)
			return jsonResponse(status, `{}`), nil
		})

		assert.NoError(t, api.CancelRaid("self"))
	}
}

func TestCancelRaidUnauthorized(t *testing.T) {
	api := stubClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized,
			`{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`), nil
	})

	require.ErrorIs(t, api.CancelRaid("self"), ErrAuth)
}
