// Package rest issues the Bybit REST calls that seed the mirror and hands
// every response to registered callbacks.
package rest

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/MtkN1/pybybit/auth"
	"github.com/MtkN1/pybybit/datastore"
	"github.com/MtkN1/pybybit/internal/metrics"
	"github.com/MtkN1/pybybit/logger"
)

const (
	MainnetURL = "https://api.bybit.com"
	TestnetURL = "https://api-testnet.bybit.com"

	defaultRPS     = 5
	defaultBurst   = 1
	defaultTimeout = 10 * time.Second
)

// Callback receives every completed response, successful or not.
type Callback func(*datastore.Response)

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client performs rate limited GET requests against one Bybit environment.
type Client struct {
	base    string
	signer  *auth.Signer
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Log

	mu        sync.RWMutex
	callbacks []Callback
}

// NewClient creates a client for production or testnet. signer may be nil
// when only public endpoints are used.
func NewClient(testnet bool, signer *auth.Signer, opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = MainnetURL
		if testnet {
			base = TestnetURL
		}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		signer:  signer,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// AddCallback registers fn for every future response.
func (c *Client) AddCallback(fn Callback) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

// Get performs a GET of path with params. Private requests are signed. The
// response is passed to every callback before it is returned; transport
// failures return an error and reach no callback.
func (c *Client) Get(ctx context.Context, path string, params map[string]any, private bool) (*datastore.Response, error) {
	query := auth.Encode(params)
	if private {
		if !c.signer.Enabled() {
			return nil, errors.Errorf("private endpoint %s requires api credentials", path)
		}
		query = c.signer.SignQuery(params)
	}
	target := path
	if query != "" {
		target += "?" + query
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+target, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build request %s", path)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", path)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read body of %s", path)
	}
	logger.RecordResponse(len(raw))
	metrics.RESTRequests.WithLabelValues(path, strconv.Itoa(res.StatusCode)).Inc()

	resp := &datastore.Response{Status: res.StatusCode, Path: target}
	if body, err := datastore.DecodeBody(raw); err == nil {
		resp.Body = body
		c.reportUsage(path, resp, res.Header)
	} else {
		c.log.WithComponent("rest").WithError(err).WithFields(logger.Fields{
			"path":   path,
			"status": res.StatusCode,
		}).Warn("response body is not a json object")
	}

	c.dispatch(resp)
	return resp, nil
}

func (c *Client) dispatch(resp *datastore.Response) {
	c.mu.RLock()
	cbs := append([]Callback(nil), c.callbacks...)
	c.mu.RUnlock()
	for _, cb := range cbs {
		cb(resp)
	}
}
