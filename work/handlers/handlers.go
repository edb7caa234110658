package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/middleware"
	"kptv-timeshift/work/parser"
	"kptv-timeshift/work/proxy"

	"github.com/gorilla/mux"
)

// defaultShortEPGLimit matches the entry count XC panels return for get_short_epg.
const defaultShortEPGLimit = 4

// RegisterRoutes adds the client-facing routes. The timeshift and live
// matchers must be the first routes on the router; anything they decline falls
// through to the routes registered after them.
func RegisterRoutes(router *mux.Router, tp *proxy.TimeshiftProxy) {
	router.MatcherFunc(TimeshiftMatcher(tp)).Methods(http.MethodGet).HandlerFunc(HandleTimeshift(tp))
	router.MatcherFunc(LiveMatcher(tp)).Methods(http.MethodGet).HandlerFunc(HandleLive(tp))
	router.HandleFunc("/player_api.php", middleware.GzipMiddleware(HandlePlayerAPI(tp))).Methods(http.MethodGet)
	router.HandleFunc("/xmltv.php", middleware.GzipMiddleware(HandleXMLTV(tp))).Methods(http.MethodGet)
}

// TimeshiftMatcher matches catch-up paths while catch-up is enabled. The flag
// is read on every request so it can be toggled without a restart.
func TimeshiftMatcher(tp *proxy.TimeshiftProxy) mux.MatcherFunc {
	return func(r *http.Request, _ *mux.RouteMatch) bool {
		if !parser.IsTimeshiftPath(r.URL.Path) {
			return false
		}
		return tp.Enabled(r.Context())
	}
}

// HandleTimeshift serves a catch-up path.
func HandleTimeshift(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := parser.ParseTimeshiftPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		logger.Debug("{handlers - HandleTimeshift} %s requests provider stream %s at %s",
			req.Username, req.ProviderStreamID, req.Timestamp)
		tp.ServeCatchup(w, r, req)
	}
}

// LiveMatcher matches live playback paths while catch-up is enabled, so the ids
// advertised by get_live_streams are playable.
func LiveMatcher(tp *proxy.TimeshiftProxy) mux.MatcherFunc {
	return func(r *http.Request, _ *mux.RouteMatch) bool {
		if !parser.IsLivePath(r.URL.Path) {
			return false
		}
		return tp.Enabled(r.Context())
	}
}

// HandleLive serves a live playback path.
func HandleLive(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := parser.ParseLivePath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		logger.Debug("{handlers - HandleLive} %s requests live stream %s", req.Username, req.StreamID)
		tp.ServeLive(w, r, req)
	}
}

// HandlePlayerAPI serves the player_api.php actions that carry catch-up data.
// Clients authenticate with their catch-up secret as the password.
func HandlePlayerAPI(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !tp.Enabled(ctx) {
			http.NotFound(w, r)
			return
		}

		query := r.URL.Query()
		user, err := tp.Resolver.Authenticate(ctx, query.Get("username"), query.Get("password"))
		if err != nil {
			writeError(w, err)
			return
		}

		action := query.Get("action")
		switch action {
		case "get_live_streams":
			listing, err := tp.LiveStreams(ctx, user)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, listing)

		case "get_simple_data_table", "get_short_epg":
			streamID := query.Get("stream_id")
			if streamID == "" {
				http.Error(w, "Missing stream_id", http.StatusBadRequest)
				return
			}

			archive := action == "get_simple_data_table"
			limit := 0
			if !archive {
				limit = defaultShortEPGLimit
				if raw := query.Get("limit"); raw != "" {
					if n, err := strconv.Atoi(raw); err == nil && n > 0 {
						limit = n
					}
				}
			}

			body, err := tp.ArchiveListing(ctx, user, streamID, archive, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)

		default:
			logger.Debug("{handlers - HandlePlayerAPI} Unsupported action %q", action)
			http.Error(w, "Unsupported action", http.StatusBadRequest)
		}
	}
}

// HandleXMLTV serves the configured XMLTV document in the provider's zone.
func HandleXMLTV(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tp.Enabled(r.Context()) {
			http.NotFound(w, r)
			return
		}

		doc, err := tp.LocalizedXMLTV(r.Context())
		if errors.Is(err, proxy.ErrNoXMLTVSource) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.Write(doc)
	}
}

// HandleNotFound is the catch-all route.
func HandleNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("{handlers - HandleNotFound} No route for %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, message := proxy.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("{handlers - writeError} %v", err)
	} else {
		logger.Debug("{handlers - writeError} %d: %v", status, err)
	}
	http.Error(w, message, status)
}
