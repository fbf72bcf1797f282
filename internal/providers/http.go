package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/propelship/leadforge/internal/models"
	"github.com/propelship/leadforge/internal/tracing"
)

func newHTTPClient(cfg Config) *http.Client {
	return &http.Client{Timeout: cfg.Timeout, Transport: traceTransport{}}
}

// traceTransport stamps the active span onto outbound requests so
// provider-side request logs line up with our traces.
type traceTransport struct{}

func (traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if tp := tracing.W3CTraceparent(req.Context()); tp != "" {
		req = req.Clone(req.Context())
		req.Header.Set("traceparent", tp)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// statusError drains the body and wraps a non-2xx response into the
// error taxonomy: 429 and 5xx are transient, auth and quota rejections
// permanent.
func statusError(provider string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	err := errors.New(msg)
	if models.ClassifyStatus(resp.StatusCode) == models.ClassTransient {
		return models.NewTransient(provider, resp.StatusCode, err)
	}
	return models.NewPermanent(provider, resp.StatusCode, err)
}

func decodeJSON(provider string, resp *http.Response, v interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}
