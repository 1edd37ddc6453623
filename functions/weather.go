package functions

import (
	"context"
	"errors"
	"net/url"
)

type weatherReport struct {
	CurrentCondition []struct {
		FeelsLikeC string `json:"FeelsLikeC"`
	} `json:"current_condition"`
}

// FeelsLikeCelsius asks wttr.in for the current feels-like temperature of
// city, returned verbatim.
func (c *Client) FeelsLikeCelsius(ctx context.Context, city string) (string, error) {
	const op = "get_feels_like_celsius"
	if city == "" {
		return "", &Error{Kind: KindMissingField, Op: op, Err: errors.New("city is empty")}
	}
	uri := c.cfg.WeatherURL + "/" + url.PathEscape(city) + "?format=j1"

	var report weatherReport
	if err := c.getJSON(ctx, op, uri, &report); err != nil {
		return "", err
	}
	if len(report.CurrentCondition) == 0 {
		return "", &Error{Kind: KindMissingField, Op: op, Err: errors.New("current_condition is empty")}
	}
	feelsLike := report.CurrentCondition[0].FeelsLikeC
	if feelsLike == "" {
		return "", &Error{Kind: KindMissingField, Op: op, Err: errors.New("FeelsLikeC is missing")}
	}
	return feelsLike, nil
}
