package proxy

import (
	"context"
	"errors"
	"net/http"

	"kptv-timeshift/work/buffer"
	"kptv-timeshift/work/cache"
	"kptv-timeshift/work/client"
	"kptv-timeshift/work/config"
	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/metrics"
	"kptv-timeshift/work/types"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// TimeshiftProxy is the catch-up engine. It resolves requests against the
// catalog, plans the provider-side timing, negotiates the URL dialect and
// relays the provider's body to the client.
type TimeshiftProxy struct {
	Config     *config.Config              // Application configuration
	Store      Store                       // Read-only catalog, schedule and settings
	Resolver   *Resolver                   // Authentication and stream resolution
	Planner    *Planner                    // Timestamp conversion and duration
	Dialects   *DialectCache               // Per-account dialect memory
	Negotiator *Negotiator                 // Primary/fallback URL builder
	Relay      *Relay                      // Upstream fetcher
	HttpClient *client.HeaderSettingClient // HTTP client with default headers
	WorkerPool *ants.Pool                  // Worker pool for listing builds
	EPGCache   *cache.EPGCache             // Cache for rendered guide documents
}

// New creates and wires a TimeshiftProxy.
func New(cfg *config.Config, store Store, httpClient *client.HeaderSettingClient, bufferPool *buffer.BufferPool, workerPool *ants.Pool, epgCache *cache.EPGCache) *TimeshiftProxy {
	dialects := NewDialectCache()
	return &TimeshiftProxy{
		Config:     cfg,
		Store:      store,
		Resolver:   NewResolver(store, store),
		Planner:    NewPlanner(store),
		Dialects:   dialects,
		Negotiator: NewNegotiator(dialects),
		Relay:      NewRelay(cfg, httpClient, dialects, bufferPool),
		HttpClient: httpClient,
		WorkerPool: workerPool,
		EPGCache:   epgCache,
	}
}

// Settings reads the plugin settings fresh from the store and fills the zone
// and language from the configuration when they are unset.
func (tp *TimeshiftProxy) Settings(ctx context.Context) (*types.PluginSettings, error) {
	settings, err := tp.Store.PluginSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings.Timezone == "" {
		settings.Timezone = tp.Config.DefaultTimezone
	}
	if settings.Language == "" {
		settings.Language = tp.Config.DefaultLanguage
	}
	return settings, nil
}

// Enabled reports whether catch-up handling is switched on. A settings read
// failure counts as disabled.
func (tp *TimeshiftProxy) Enabled(ctx context.Context) bool {
	settings, err := tp.Store.PluginSettings(ctx)
	if err != nil {
		logger.Error("{proxy - Enabled} Failed to read plugin settings: %v", err)
		return false
	}
	return settings.Enabled
}

// Prepare resolves req and builds the upstream fetch. It performs no network I/O.
func (tp *TimeshiftProxy) Prepare(ctx context.Context, req *types.CatchupRequest, rangeHeader string) (Target, error) {
	res, err := tp.Resolver.Resolve(ctx, req.Username, req.Password, req.ProviderStreamID)
	if err != nil {
		return Target{}, err
	}

	settings, err := tp.Settings(ctx)
	if err != nil {
		logger.Warn("{proxy - Prepare} Failed to read plugin settings, using defaults: %v", err)
		settings = &types.PluginSettings{
			Enabled:  true,
			Timezone: tp.Config.DefaultTimezone,
			Language: tp.Config.DefaultLanguage,
		}
	}

	plan, err := tp.Planner.Plan(ctx, req.Timestamp, res.Channel, settings)
	if err != nil {
		logger.Warn("{proxy - Prepare} Timestamp conversion failed, passing %q through: %v", req.Timestamp, err)
	}

	streamID := res.Stream.ProviderStreamID()
	primary, fallback := tp.Negotiator.Build(res.Account, streamID, plan.LocalTimestamp, plan.DurationMinutes)

	logger.Debug("{proxy - Prepare} %s on %s: %s -> %s (%s), %d minutes",
		req.Username, res.Channel.Name, req.Timestamp, plan.LocalTimestamp, settings.Timezone, plan.DurationMinutes)

	return Target{
		AccountID: res.Account.ID,
		Primary:   primary,
		Fallback:  fallback,
		UserAgent: res.Account.UserAgent,
		Range:     rangeHeader,
	}, nil
}

// ServeCatchup handles one parsed catch-up request end to end. Every failure is
// turned into an HTTP response here.
func (tp *TimeshiftProxy) ServeCatchup(w http.ResponseWriter, r *http.Request, req *types.CatchupRequest) {
	target, err := tp.Prepare(r.Context(), req, r.Header.Get("Range"))
	if err != nil {
		tp.writeError(w, metrics.TimeshiftRequests, "Catch-up for "+req.Username+" stream "+req.ProviderStreamID, err)
		return
	}
	tp.relay(w, r, target, metrics.TimeshiftRequests, "Catch-up for "+req.Username+" stream "+req.ProviderStreamID)
}

// relay opens target and copies it to w, counting the outcome on requests.
// A client that leaves before the provider answers is counted as canceled and
// gets no response.
func (tp *TimeshiftProxy) relay(w http.ResponseWriter, r *http.Request, target Target, requests *prometheus.CounterVec, subject string) {
	ctx := r.Context()

	up, err := tp.Relay.Open(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			requests.WithLabelValues("canceled").Inc()
			logger.Debug("{proxy - relay} %s: client left before the provider answered", subject)
			return
		}
		tp.writeError(w, requests, subject, err)
		return
	}
	defer up.Close()

	tp.writeUpstream(w, r, up)
	requests.WithLabelValues(outcomeLabel(nil)).Inc()
}

// writeUpstream relays status, headers and body, flushing after every chunk.
func (tp *TimeshiftProxy) writeUpstream(w http.ResponseWriter, r *http.Request, up *Upstream) {
	crw := client.NewCustomResponseWriter(w)
	for name, values := range up.Header {
		for _, v := range values {
			crw.Header().Add(name, v)
		}
	}
	crw.WriteHeader(up.Status)

	defer func() {
		metrics.BytesRelayed.Add(float64(crw.BytesWritten()))
		logger.Debug("{proxy - writeUpstream} Relayed %d bytes (status %d)", crw.BytesWritten(), crw.StatusCode())
	}()

	for chunk, err := range up.Chunks() {
		if err != nil {
			if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
				return
			}
			// headers are gone; all that is left is to stop
			logger.Warn("{proxy - writeUpstream} Upstream read failed: %v", err)
			return
		}
		if _, err := crw.Write(chunk); err != nil {
			logger.Debug("{proxy - writeUpstream} Client write failed: %v", err)
			return
		}
		crw.Flush()
	}
}

// writeError maps err to its status and message, counts it on requests and
// logs it against subject.
func (tp *TimeshiftProxy) writeError(w http.ResponseWriter, requests *prometheus.CounterVec, subject string, err error) {
	status, message := StatusFor(err)
	requests.WithLabelValues(outcomeLabel(err)).Inc()

	if status >= http.StatusInternalServerError {
		logger.Error("{proxy - writeError} %s failed: %v", subject, err)
	} else {
		logger.Warn("{proxy - writeError} %s rejected (%d): %v", subject, status, err)
	}

	http.Error(w, message, status)
}
