package util

import (
	"net"
	"net/http"
	"time"

	"github.com/galois26/disaster-ingester/internal/config"
)

// NewHTTPClient builds the single-attempt client used for every page request.
func NewHTTPClient(cfg config.HTTPConfig) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	var rt http.RoundTripper = tr
	if cfg.UserAgent != "" {
		rt = userAgent{next: tr, value: cfg.UserAgent}
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: rt}
}

type userAgent struct {
	next  http.RoundTripper
	value string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", u.value)
	}
	return u.next.RoundTrip(req)
}
