package functions

import (
	"context"
	"errors"
	"net/url"
)

type geoIPReport struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	City    string `json:"city"`
}

// CurrentCityName resolves the caller's city from its public IP address.
func (c *Client) CurrentCityName(ctx context.Context) (string, error) {
	const op = "get_current_city_name"
	uri := c.cfg.GeoIPURL
	if c.cfg.Language != "" {
		uri += "?" + url.Values{"lang": {c.cfg.Language}}.Encode()
	}

	var report geoIPReport
	if err := c.getJSON(ctx, op, uri, &report); err != nil {
		return "", err
	}
	if report.Status != "success" {
		msg := report.Message
		if msg == "" {
			msg = "unknown error"
		}
		return "", &Error{Kind: KindAPI, Op: op, Err: errors.New(msg)}
	}
	if report.City == "" {
		return "", &Error{Kind: KindMissingField, Op: op, Err: errors.New("city is missing")}
	}
	return report.City, nil
}
