package userrun

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"stampede.dev/stampede/internal/taskset"
)

// newHTTPClient builds a client tuned for high-concurrency keep-alive
// reuse, mirroring the transport settings of a standalone Go load
// generator: bounded idle connections per host, a shared idle pool, and an
// explicit idle timeout so dead connections don't accumulate.
func newHTTPClient(timeout time.Duration, maxIdlePerHost int) *http.Client {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 100
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        maxIdlePerHost * 4,
		MaxIdleConnsPerHost: maxIdlePerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		// Requests are logged with Redirected = final URL != requested URL,
		// so following redirects transparently is correct; CheckRedirect is
		// left at the default (follow, cap 10).
	}
}

// doRequest issues method against base+path with the given body, drains and
// closes the response body for connection reuse, and returns the trimmed
// envelope plus timing the caller records as a Request Metric.
func (u *User) doRequest(ctx context.Context, method, base, path string, body []byte) (*taskset.Response, time.Duration, error) {
	url := base + path
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, time.Since(start), err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	elapsed := time.Since(start)

	finalURL := resp.Request.URL.String()
	redirected := finalURL != url

	return &taskset.Response{
		StatusCode: resp.StatusCode,
		FinalURL:   finalURL,
		Redirected: redirected,
		Body:       respBody,
	}, elapsed, nil
}
