package client

import (
	"net"
	"net/http"
	"time"

	"kptv-timeshift/work/config"
)

// DefaultUserAgent is sent when neither the request nor the provider account sets one.
const DefaultUserAgent = "VLC/3.0.18 LibVLC/3.0.18"

// HeaderSettingClient wraps http.Client to automatically set headers. Every
// provider request goes through it so that requests without an explicit
// User-Agent or Accept header still look like a regular player to the
// provider. Headers set by the caller always win.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// CustomResponseWriter wraps http.ResponseWriter to track the status and body
// size written to the client and implement Flusher. Relayed responses are
// marked no-cache when the header is written, since catch-up and live bodies
// must never be stored by intermediaries.
type CustomResponseWriter struct {
	http.ResponseWriter
	WroteHeader  bool
	statusCode   int
	bytesWritten int64
}

// NewHeaderSettingClient builds the upstream client. There is no overall timeout
// since catch-up bodies are long-lived; connect, TLS and response headers are each
// bounded by cfg.UpstreamTimeout and body reads are bounded by the relay.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          cfg.MaxConnectionsToApp,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   timeout,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: timeout,
			// keep upstream Content-Length/Content-Range intact
			DisableCompression: true,
		},
		// redirects keep the original headers (Range, User-Agent) for same-host hops
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

// Do sends req after filling in the default User-Agent and Accept headers.
// It behaves like http.Client.Do otherwise: the caller owns the response body
// and cancellation follows the request's context.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

// setHeaders fills defaults without overriding headers the caller already set
func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	req.Header.Set("Connection", "keep-alive")
}

// NewCustomResponseWriter wraps w. Nothing is written until the first
// WriteHeader or Write call.
func NewCustomResponseWriter(w http.ResponseWriter) *CustomResponseWriter {
	return &CustomResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

// WriteHeader sets Cache-Control: no-cache and sends the status. Calls after
// the first are ignored, matching net/http's own behaviour.
func (crw *CustomResponseWriter) WriteHeader(statusCode int) {
	if crw.WroteHeader {
		return
	}

	crw.Header().Set("Cache-Control", "no-cache")

	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
	crw.WroteHeader = true
}

// Write sends b, writing a 200 header first if none was sent, and counts the
// bytes accepted by the underlying writer.
func (crw *CustomResponseWriter) Write(b []byte) (int, error) {
	if !crw.WroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	n, err := crw.ResponseWriter.Write(b)
	crw.bytesWritten += int64(n)
	return n, err
}

// StatusCode returns the status sent to the client, or 0 before WriteHeader.
func (crw *CustomResponseWriter) StatusCode() int {
	return crw.statusCode
}

// BytesWritten returns the number of body bytes written so far.
func (crw *CustomResponseWriter) BytesWritten() int64 {
	return crw.bytesWritten
}

// Flush implements http.Flusher. It is a no-op when the underlying writer
// cannot flush.
func (crw *CustomResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController
func (crw *CustomResponseWriter) Unwrap() http.ResponseWriter {
	return crw.ResponseWriter
}
