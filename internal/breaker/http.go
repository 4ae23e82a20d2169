// v1
// internal/breaker/http.go
package breaker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient wraps an http.Client with breaker behaviour. Transport errors and
// 5xx responses count as failures; the response is still returned for 5xx so
// callers can report the status code.
type HTTPClient struct {
	Client *http.Client
	brk    *Breaker
}

// NewHTTPClient wires brk around httpClient. A nil brk disables protection.
func NewHTTPClient(httpClient *http.Client, brk *Breaker) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{Client: httpClient, brk: brk}
}

// ProbeURL builds a probe issuing GET url and accepting any status below 500.
func ProbeURL(httpClient *http.Client, url string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.CopyN(io.Discard, resp.Body, 64)
		if resp.StatusCode < 500 {
			return nil
		}
		return fmt.Errorf("probe_bad_status: %d", resp.StatusCode)
	}
}

// Breaker exposes the wrapped breaker, nil when disabled.
func (h *HTTPClient) Breaker() *Breaker { return h.brk }

func (h *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if h.brk == nil {
		return h.Client.Do(req)
	}
	var resp *http.Response
	err := h.brk.Execute(req.Context(), func(ctx context.Context) error {
		r, err := h.Client.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= 500 {
			return fmt.Errorf("upstream status %d", r.StatusCode)
		}
		return nil
	})
	if resp != nil && resp.StatusCode >= 500 {
		return resp, nil
	}
	return resp, err
}
