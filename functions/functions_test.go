package functions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, weatherURL, geoURL string) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WeatherURL = weatherURL
	cfg.GeoIPURL = geoURL
	cfg.Timeout = 2 * time.Second
	c, err := NewClient(shared.NewNopLogger(), cfg)
	require.NoError(t, err)
	return c
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	var fnErr *Error
	require.ErrorAs(t, err, &fnErr)
	assert.Equal(t, kind, fnErr.Kind)
	return fnErr
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, DefaultConfig())
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	_, err = NewClient(shared.NewNopLogger(), Config{})
	assert.Error(t, err)

	c, err := NewClient(shared.NewNopLogger(), Config{WeatherURL: "http://x/", GeoIPURL: "http://y"})
	require.NoError(t, err)
	assert.Equal(t, "http://x", c.cfg.WeatherURL)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
}

func TestFeelsLikeCelsius(t *testing.T) {
	var path, query string
	srv := stub(t, http.StatusOK, `{"current_condition":[{"FeelsLikeC":"18","temp_C":"20"}]}`, func(r *http.Request) {
		path = r.URL.EscapedPath()
		query = r.URL.RawQuery
	})
	c := newTestClient(t, srv.URL, srv.URL)

	got, err := c.FeelsLikeCelsius(context.Background(), "New York")
	require.NoError(t, err)
	assert.Equal(t, "18", got)
	assert.Equal(t, "/New%20York", path)
	assert.Equal(t, "format=j1", query)
}

func TestFeelsLikeCelsiusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"bad status", http.StatusServiceUnavailable, `oops`, KindStatus},
		{"not json", http.StatusOK, `<html>`, KindDecode},
		{"no conditions", http.StatusOK, `{"current_condition":[]}`, KindMissingField},
		{"no feels like", http.StatusOK, `{"current_condition":[{"temp_C":"20"}]}`, KindMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := stub(t, tt.status, tt.body, nil)
			c := newTestClient(t, srv.URL, srv.URL)
			_, err := c.FeelsLikeCelsius(context.Background(), "Taipei")
			fnErr := requireKind(t, err, tt.kind)
			assert.Equal(t, "get_feels_like_celsius", fnErr.Op)
		})
	}

	c := newTestClient(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	_, err := c.FeelsLikeCelsius(context.Background(), "")
	requireKind(t, err, KindMissingField)
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, url)
	_, err := c.FeelsLikeCelsius(context.Background(), "Taipei")
	requireKind(t, err, KindNetwork)
	_, err = c.CurrentCityName(context.Background())
	requireKind(t, err, KindNetwork)
}

func TestCancelledRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.FeelsLikeCelsius(ctx, "Taipei")
	fnErr := requireKind(t, err, KindNetwork)
	assert.ErrorIs(t, fnErr, context.DeadlineExceeded)
}

func TestCurrentCityName(t *testing.T) {
	var lang string
	srv := stub(t, http.StatusOK, `{"status":"success","city":"台北市","country":"台灣"}`, func(r *http.Request) {
		lang = r.URL.Query().Get("lang")
	})
	c := newTestClient(t, srv.URL, srv.URL)

	got, err := c.CurrentCityName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "台北市", got)
	assert.Equal(t, "zh-TW", lang)
}

func TestCurrentCityNameErrors(t *testing.T) {
	srv := stub(t, http.StatusOK, `{"status":"fail","message":"reserved range"}`, nil)
	c := newTestClient(t, srv.URL, srv.URL)
	_, err := c.CurrentCityName(context.Background())
	fnErr := requireKind(t, err, KindAPI)
	assert.EqualError(t, fnErr, "get_current_city_name: api error: reserved range")

	srv = stub(t, http.StatusOK, `{"status":"success"}`, nil)
	c = newTestClient(t, srv.URL, srv.URL)
	_, err = c.CurrentCityName(context.Background())
	requireKind(t, err, KindMissingField)
}

func TestFunctionsThroughRegistry(t *testing.T) {
	weather := stub(t, http.StatusOK, `{"current_condition":[{"FeelsLikeC":"18"}]}`, nil)
	geo := stub(t, http.StatusOK, `{"status":"success","city":"Taipei"}`, nil)
	c := newTestClient(t, weather.URL, geo.URL)

	registry, err := live.NewRegistry(shared.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, c.Register(registry))

	decls := registry.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, "get_current_city_name", decls[0].Name)
	assert.Equal(t, "get_feels_like_celsius", decls[1].Name)
	assert.Equal(t, []string{"city"}, decls[1].Parameters.Required)

	responses := registry.DispatchBatch(context.Background(), []live.ToolCall{
		{ID: "1", Name: "get_current_city_name"},
		{ID: "2", Name: "get_feels_like_celsius", Args: map[string]any{"city": "Taipei"}},
	})
	assert.Equal(t, []live.ToolResponse{
		{ID: "1", Name: "get_current_city_name", Result: "Taipei"},
		{ID: "2", Name: "get_feels_like_celsius", Result: "18"},
	}, responses)

	assert.ErrorIs(t, c.Register(nil), shared.ErrNoRegistry)
}

func TestNetworkFailureThroughRegistry(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := newTestClient(t, url, url)

	registry, err := live.NewRegistry(shared.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, c.Register(registry))

	resp := registry.Dispatch(context.Background(), live.ToolCall{
		ID:   "7",
		Name: "get_feels_like_celsius",
		Args: map[string]any{"city": "Taipei"},
	})
	assert.Equal(t, "7", resp.ID)
	assert.Contains(t, resp.Result, "error calling get_feels_like_celsius: get_feels_like_celsius: network error")
}
