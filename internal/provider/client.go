package provider

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

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	headerAPIKey         = "X-Api-Key"
	headerTraceID        = "X-Trace-Id"
	headerIdempotencyKey = "Idempotency-Key"
	maxErrorBody         = 64 << 10
)

// Observer receives the latency and outcome of every provider call.
type Observer interface {
	ObserveProviderCall(product domain.ProductLine, operation string, outcome string, elapsed time.Duration)
}

// Client is the JSON-over-HTTP transport shared by the flight and hotel gateways.
type Client struct {
	baseURL  string
	apiKey   string
	product  domain.ProductLine
	http     *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *logrus.Logger
	observer Observer
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit throttles outbound calls; a non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		c.observer = o
	}
}

func newClient(product domain.ProductLine, baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		product: product,
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// call posts in as JSON to path and decodes the response into out. Every call
// runs under its own timeout.
func (c *Client) call(ctx context.Context, operation, path, traceID, idempotencyKey string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveProviderCall(c.product, operation, outcomeOf(err), time.Since(start))
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Message: fmt.Sprintf("rate limiter: %v", err)}
		}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(headerAPIKey, c.apiKey)
	}
	if traceID != "" {
		req.Header.Set(headerTraceID, traceID)
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"product":   c.product,
			"operation": operation,
			"trace_id":  traceID,
		}).WithError(err).Warn("Provider call failed")
		return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}
	if rejected := businessError(resp.StatusCode, raw); rejected != nil {
		c.logger.WithFields(logrus.Fields{
			"product":   c.product,
			"operation": operation,
			"trace_id":  traceID,
			"code":      rejected.Code,
		}).Warn("Provider rejected the request")
		return rejected
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Message: "empty response body"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Status: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// businessError detects a 2xx body that carries status "error". Such a body is
// a rejection; its code and message are kept verbatim.
func businessError(status int, raw []byte) *domain.ProviderError {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	if !strings.EqualFold(strings.TrimSpace(body.Status), "error") {
		return nil
	}
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	return &domain.ProviderError{Kind: domain.ErrProviderRejected, Status: status, Code: body.Code, Message: msg}
}

// classify maps a non-2xx response to the error taxonomy. The provider's own
// code and message are kept verbatim.
func classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}

	kind := domain.ErrProviderRejected
	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		kind = domain.ErrProviderUnavailable
	}
	return &domain.ProviderError{Kind: kind, Status: resp.StatusCode, Code: body.Code, Message: msg}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrProviderRejected):
		return "rejected"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
