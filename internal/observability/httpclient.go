package observability

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns an http.Client instrumented with otelhttp transport.
// timeout, when non-zero, is applied to base.Timeout — the hub's own
// config separates a short local-service budget (docstore, vector
// engine) from a longer one for the remote AI service
// (HubRuntimeConfig.HTTPTimeoutLocal/HTTPTimeoutRemote), so callers
// pass whichever applies rather than relying on http.Client's
// unbounded zero value.
func NewHTTPClient(base *http.Client, timeout time.Duration) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	if timeout > 0 {
		base.Timeout = timeout
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt)
	return base
}

// headerRoundTripper injects a fixed set of headers into every outgoing
// request that does not already set them, then delegates to next.
type headerRoundTripper struct {
	next    http.RoundTripper
	headers map[string]string
}

func (h headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return h.next.RoundTrip(req)
}

// WithHeaders returns base with headers merged into every request's
// transport; a header the request already sets is left unchanged. No
// caller outside its test uses it: the AI-service client in
// cmd/intelhubd is built with NewHTTPClient alone.
func WithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = headerRoundTripper{next: rt, headers: headers}
	return base
}
