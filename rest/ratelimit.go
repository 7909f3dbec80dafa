package rest

import (
	"net/http"
	"strconv"

	"github.com/MtkN1/pybybit/datastore"
	"github.com/MtkN1/pybybit/internal/metrics"
	"github.com/MtkN1/pybybit/logger"
)

// Usage is the exchange rate limit state reported alongside a response.
type Usage struct {
	Limit     int64
	Remaining int64
	ResetMs   int64
}

// Used is the number of requests consumed in the current window.
func (u Usage) Used() int64 {
	if used := u.Limit - u.Remaining; used > 0 {
		return used
	}
	return 0
}

// parseUsage reads rate_limit / rate_limit_status from the body and falls
// back to the X-Bapi-* and X-RateLimit-* headers.
func parseUsage(body map[string]any, header http.Header) (Usage, bool) {
	var u Usage
	limit, okLimit := intField(body, "rate_limit")
	remaining, okRemaining := intField(body, "rate_limit_status")
	if !okLimit || !okRemaining {
		limit, okLimit = headerInt(header, "X-Bapi-Limit", "X-RateLimit-Limit")
		remaining, okRemaining = headerInt(header, "X-Bapi-Limit-Status", "X-RateLimit-Remaining")
	}
	if !okLimit || !okRemaining {
		return u, false
	}
	u.Limit, u.Remaining = limit, remaining
	if reset, ok := intField(body, "rate_limit_reset_ms"); ok {
		u.ResetMs = reset
	} else if reset, ok := headerInt(header, "X-Bapi-Limit-Reset-Timestamp"); ok {
		u.ResetMs = reset
	}
	return u, true
}

func (c *Client) reportUsage(path string, resp *datastore.Response, header http.Header) {
	u, ok := parseUsage(resp.Body, header)
	if !ok {
		return
	}
	metrics.RESTRateLimitUsed.WithLabelValues(path).Set(float64(u.Used()))
	metrics.EmitMetric(c.log, "rest", "used_weight", u.Used(), "gauge", logger.Fields{
		"path":      path,
		"limit":     u.Limit,
		"remaining": u.Remaining,
	})
	if u.Remaining <= 1 {
		c.log.WithComponent("rest").WithFields(logger.Fields{
			"path":     path,
			"limit":    u.Limit,
			"reset_ms": u.ResetMs,
		}).Warn("exchange rate limit nearly exhausted")
	}
}

func intField(body map[string]any, name string) (int64, bool) {
	v, ok := body[name]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case interface{ Int64() (int64, error) }:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func headerInt(header http.Header, names ...string) (int64, bool) {
	for _, name := range names {
		if v := header.Get(name); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
