package monitor

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPProber treats the remote store as reachable when a GET of its health
// URL gets any HTTP response within the timeout. Status codes are ignored:
// an error page still proves the network path works.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates an HTTPProber for url.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	return true
}
