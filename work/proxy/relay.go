package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"kptv-timeshift/work/buffer"
	"kptv-timeshift/work/client"
	"kptv-timeshift/work/config"
	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/metrics"
	"kptv-timeshift/work/types"
	"kptv-timeshift/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// DefaultContentType is sent when the provider does not name one.
const DefaultContentType = "video/mp2t"

var errReadTimeout = errors.New("upstream read idle timeout")

// relayedHeaders are copied from the provider response so clients can seek.
var relayedHeaders = []string{"Content-Length", "Content-Range", "Accept-Ranges"}

// Target is one resolved upstream fetch. Catch-up targets may carry a
// fallback URL in the other dialect; live targets never do.
type Target struct {
	AccountID int64  // provider account, keys the dialect cache and rate limiter
	Primary   string // first URL to try
	Fallback  string // tried only when Primary answers 400, empty when trusted
	UserAgent string // account User-Agent, empty for the client default
	Range     string // inbound Range header, forwarded verbatim
}

// Relay fetches catch-up and live bodies from providers.
//
// Each provider account has its own rate limiter so one busy account cannot
// starve the rest. Opened bodies are counted until closed, and the count is
// exported both through Active and the active relays gauge.
type Relay struct {
	config     *config.Config
	httpClient *client.HeaderSettingClient
	dialects   *DialectCache
	bufferPool *buffer.BufferPool
	timeout    time.Duration
	rate       int
	limiters   *xsync.MapOf[int64, ratelimit.Limiter] // one limiter per provider account
	active     atomic.Int64                           // bodies currently open
}

// NewRelay creates a Relay. UpstreamTimeout bounds each connect and each idle
// body read; UpstreamRateLimit is applied per account.
func NewRelay(cfg *config.Config, httpClient *client.HeaderSettingClient, dialects *DialectCache, bufferPool *buffer.BufferPool) *Relay {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if bufferPool == nil {
		bufferPool = buffer.NewBufferPool(buffer.ChunkSize)
	}
	return &Relay{
		config:     cfg,
		httpClient: httpClient,
		dialects:   dialects,
		bufferPool: bufferPool,
		timeout:    timeout,
		rate:       cfg.UpstreamRateLimit,
		limiters:   xsync.NewMapOf[int64, ratelimit.Limiter](),
	}
}

func (r *Relay) limiter(accountID int64) ratelimit.Limiter {
	if l, ok := r.limiters.Load(accountID); ok {
		return l
	}
	var l ratelimit.Limiter
	if r.rate > 0 {
		l = ratelimit.New(r.rate)
	} else {
		l = ratelimit.NewUnlimited()
	}
	actual, _ := r.limiters.LoadOrStore(accountID, l)
	return actual
}

// Open requests t.Primary and, when the provider rejects it with 400, t.Fallback.
// A successful fallback makes DialectB sticky for the account. The returned
// Upstream has a 200 or 206 status and must be closed by the caller.
func (r *Relay) Open(ctx context.Context, t Target) (*Upstream, error) {
	up, err := r.fetch(ctx, t, t.Primary)
	if err != nil {
		return nil, err
	}

	if up.Status == http.StatusBadRequest && t.Fallback != "" {
		up.Close()
		logger.Debug("{proxy/relay - Open} Provider rejected primary URL for account %d, trying fallback %s",
			t.AccountID, utils.LogURL(r.config, t.Fallback))

		up, err = r.fetch(ctx, t, t.Fallback)
		if err != nil {
			metrics.DialectFallbacks.WithLabelValues("error").Inc()
			return nil, err
		}
		if acceptable(up.Status) {
			metrics.DialectFallbacks.WithLabelValues("success").Inc()
			r.dialects.Remember(t.AccountID, types.DialectB)
		} else {
			metrics.DialectFallbacks.WithLabelValues("rejected").Inc()
		}
	}

	if !acceptable(up.Status) {
		status := up.Status
		up.Close()
		metrics.UpstreamErrors.WithLabelValues("status").Inc()
		logger.Warn("{proxy/relay - Open} Provider answered %d for account %d", status, t.AccountID)
		return nil, &UpstreamStatusError{Status: status}
	}

	r.active.Add(1)
	metrics.ActiveRelays.Inc()
	up.onClose = func() {
		r.active.Add(-1)
		metrics.ActiveRelays.Dec()
	}
	return up, nil
}

// fetch issues one GET. Non-2xx statuses are returned as an open Upstream so the
// caller can decide on a fallback.
func (r *Relay) fetch(ctx context.Context, t Target, rawURL string) (*Upstream, error) {
	reqCtx, cancel := context.WithCancelCause(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamConnection, err)
	}
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	if t.Range != "" {
		req.Header.Set("Range", t.Range)
	}

	// Take blocks without watching ctx
	r.limiter(t.AccountID).Take()
	if err := ctx.Err(); err != nil {
		cancel(nil)
		return nil, err
	}

	watchdog := time.AfterFunc(r.timeout, func() { cancel(errReadTimeout) })

	logger.Debug("{proxy/relay - fetch} GET %s (range %q)", utils.LogURL(r.config, rawURL), t.Range)
	resp, err := r.httpClient.Do(req)
	watchdog.Stop()
	if err != nil {
		classified := classify(ctx, reqCtx, err)
		cancel(nil)
		return nil, classified
	}

	return &Upstream{
		Status:   resp.StatusCode,
		Header:   relayHeader(resp.Header),
		body:     resp.Body,
		parent:   ctx,
		reqCtx:   reqCtx,
		cancel:   cancel,
		watchdog: watchdog,
		timeout:  r.timeout,
		pool:     r.bufferPool,
	}, nil
}

// Active returns the number of relayed bodies not yet closed.
func (r *Relay) Active() int64 {
	return r.active.Load()
}

func acceptable(status int) bool {
	return status == http.StatusOK || status == http.StatusPartialContent
}

func relayHeader(src http.Header) http.Header {
	h := make(http.Header, len(relayedHeaders)+1)
	for _, name := range relayedHeaders {
		if v := src.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	if ct := src.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	} else {
		h.Set("Content-Type", DefaultContentType)
	}
	return h
}

// classify turns a transport error into ErrUpstreamTimeout or
// ErrUpstreamConnection. When the caller's own context ended, its error is
// returned unchanged.
func classify(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var netErr net.Error
	if errors.Is(context.Cause(reqCtx), errReadTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		metrics.UpstreamErrors.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}

	metrics.UpstreamErrors.WithLabelValues("connection").Inc()
	return fmt.Errorf("%w: %v", ErrUpstreamConnection, err)
}

// Upstream is an open provider response.
type Upstream struct {
	Status int         // 200 or 206 once returned by Relay.Open
	Header http.Header // headers to relay to the client

	body     io.ReadCloser
	parent   context.Context
	reqCtx   context.Context
	cancel   context.CancelCauseFunc
	watchdog *time.Timer
	timeout  time.Duration
	pool     *buffer.BufferPool
	onClose  func()

	consumed  atomic.Bool
	closeOnce sync.Once
}

// Chunks returns the body as a lazy sequence of chunks of at most
// buffer.ChunkSize bytes. Each chunk is only valid until the next iteration.
// The sequence can be ranged over once; a second range yields ErrBodyConsumed.
// Each read must make progress within the upstream timeout.
func (u *Upstream) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !u.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrBodyConsumed)
			return
		}

		buf := u.pool.Get()
		defer u.pool.Put(buf)

		for {
			u.watchdog.Reset(u.timeout)
			n, err := u.body.Read(buf.B)
			u.watchdog.Stop()

			if n > 0 {
				if !yield(buf.B[:n], nil) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, classify(u.parent, u.reqCtx, err))
				return
			}
		}
	}
}

// Close releases the upstream connection. It is safe to call more than once.
func (u *Upstream) Close() error {
	var err error
	u.closeOnce.Do(func() {
		u.watchdog.Stop()
		err = u.body.Close()
		u.cancel(nil)
		if u.onClose != nil {
			u.onClose()
		}
	})
	return err
}
