// Package httpc provides a shared HTTP client with short timeouts for the
// rover's client commands. The command channel answers every request with
// a fixed page and closes, so connections are never reused.
package httpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout        = 5 * time.Second
	DefaultConnectTimeout = 2 * time.Second
)

// Client is the shared client.
var Client = NewClient(DefaultTimeout)

// NewClient creates a client with the given overall timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: DefaultConnectTimeout,
			}).DialContext,
			DisableKeepAlives:     true,
			ResponseHeaderTimeout: timeout,
		},
	}
}

// Get performs a GET with ctx on c and drains the body. It returns the
// number of body bytes read. Non-2xx statuses are errors.
func Get(ctx context.Context, c *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, err
	}
	if resp.StatusCode/100 != 2 {
		return n, fmt.Errorf("httpc: %s: %s", url, resp.Status)
	}
	return n, nil
}
