package functions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultWeatherURL = "https://wttr.in"
	DefaultGeoIPURL   = "http://ip-api.com/json"
	DefaultLanguage   = "zh-TW"
	DefaultTimeout    = 10 * time.Second
)

// Config points the host functions at their upstream services.
type Config struct {
	WeatherURL string        `yaml:"weather_url"`
	GeoIPURL   string        `yaml:"geoip_url"`
	Language   string        `yaml:"language"`
	Timeout    time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		WeatherURL: DefaultWeatherURL,
		GeoIPURL:   DefaultGeoIPURL,
		Language:   DefaultLanguage,
		Timeout:    DefaultTimeout,
	}
}

// Client implements the host functions offered to the model.
type Client struct {
	logger shared.LoggerAdapter
	http   *fasthttp.Client
	cfg    Config
}

func NewClient(logger shared.LoggerAdapter, cfg Config) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.WeatherURL == "" || cfg.GeoIPURL == "" {
		return nil, errors.New("weather and geoip urls are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.WeatherURL = strings.TrimRight(cfg.WeatherURL, "/")
	return &Client{
		logger: logger.With(zap.String("component", "functions")),
		http: &fasthttp.Client{
			Name:                "gemini-live/" + shared.Version,
			MaxIdleConnDuration: time.Minute,
		},
		cfg: cfg,
	}, nil
}

type feelsLikeArgs struct {
	City string `json:"city" jsonschema:"description=English name of the city, e.g. Taipei"`
}

type noArgs struct{}

// Functions returns the host functions bound for a Registry.
func (c *Client) Functions() []live.Function {
	return []live.Function{
		live.NewFunction(
			"get_current_city_name",
			"Returns the name of the city the user is currently in, based on their IP address.",
			func(ctx context.Context, _ noArgs) (string, error) {
				return c.CurrentCityName(ctx)
			},
		),
		live.NewFunction(
			"get_feels_like_celsius",
			"Returns the current feels-like temperature of a city in degrees Celsius.",
			func(ctx context.Context, args feelsLikeArgs) (string, error) {
				return c.FeelsLikeCelsius(ctx, args.City)
			},
		),
	}
}

// Register adds every host function to registry.
func (c *Client) Register(registry *live.Registry) error {
	if registry == nil {
		return shared.ErrNoRegistry
	}
	return registry.Register(c.Functions()...)
}

type httpResult struct {
	status int
	body   []byte
	err    error
}

// getJSON performs a GET and decodes a 200 response into out. The request runs
// on its own goroutine so ctx can abandon it.
func (c *Client) getJSON(ctx context.Context, op, uri string, out any) error {
	resC := make(chan httpResult, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(uri)
		req.Header.SetMethod(fasthttp.MethodGet)
		req.Header.Set("Accept", "application/json")

		err := c.http.DoTimeout(req, resp, c.cfg.Timeout)
		resC <- httpResult{
			status: resp.StatusCode(),
			body:   append([]byte(nil), resp.Body()...),
			err:    err,
		}
	}()

	var res httpResult
	select {
	case <-ctx.Done():
		return &Error{Kind: KindNetwork, Op: op, Err: ctx.Err()}
	case res = <-resC:
	}
	if res.err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: res.err}
	}
	c.logger.Debug("upstream responded",
		zap.String("op", op),
		zap.Int("status", res.status),
		zap.Int("bytes", len(res.body)),
	)
	if res.status != fasthttp.StatusOK {
		return &Error{Kind: KindStatus, Op: op, Err: fmt.Errorf("unexpected status code %d", res.status)}
	}
	if err := sonic.Unmarshal(res.body, out); err != nil {
		return &Error{Kind: KindDecode, Op: op, Err: err}
	}
	return nil
}
