package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"kptv-timeshift/work/database"
	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/middleware"
	"kptv-timeshift/work/proxy"
	"kptv-timeshift/work/types"
	"kptv-timeshift/work/utils"

	"github.com/gorilla/mux"
)

// StatsResponse is the payload of GET /api/stats.
type StatsResponse struct {
	Catalog        map[string]interface{} `json:"catalog"`
	Uptime         string                 `json:"uptime"`
	MemoryUsage    string                 `json:"memoryUsage"`
	ActiveRelays   int64                  `json:"activeRelays"`
	KnownDialects  int                    `json:"knownDialects"`
	CachedGuides   int                    `json:"cachedGuides"`
	CacheDuration  string                 `json:"cacheDuration"`
	WorkerThreads  int                    `json:"workerThreads"`
	RunningWorkers int                    `json:"runningWorkers"`
	Enabled        bool                   `json:"enabled"`
}

// DialectEntry reports the remembered URL form of one provider account.
type DialectEntry struct {
	AccountID int64         `json:"accountId"`
	Dialect   types.Dialect `json:"dialect"`
}

// LogEntry is one line of the in-memory admin event log.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

const maxLogEntries = 1000

var (
	adminStartTime = time.Now()

	logMu      sync.Mutex
	logEntries = make([]LogEntry, 0, maxLogEntries)
)

// setupAdminRoutes registers the admin API. Every route answers CORS preflights
// and gzip-compresses when the client accepts it.
func setupAdminRoutes(router *mux.Router, tp *proxy.TimeshiftProxy, db *database.DB) {
	router.HandleFunc("/api/stats", corsMiddleware(middleware.GzipMiddleware(handleGetStats(tp, db)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/dialects", corsMiddleware(middleware.GzipMiddleware(handleGetDialects(tp)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/dialects", corsMiddleware(handleResetDialects(tp))).Methods("DELETE")
	router.HandleFunc("/api/dialects/{account}", corsMiddleware(handleForgetDialect(tp))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/settings", corsMiddleware(middleware.GzipMiddleware(handleGetSettings(tp)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/settings", corsMiddleware(handleSetSettings(tp, db))).Methods("PUT")
	router.HandleFunc("/api/cache/clear", corsMiddleware(handleClearCache(tp))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(middleware.GzipMiddleware(handleGetLogs))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(handleClearLogs)).Methods("DELETE")

	addLogEntry("info", "Admin interface initialized")
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func handleGetStats(tp *proxy.TimeshiftProxy, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog, err := db.GetStats(r.Context())
		if err != nil {
			logger.Error("{main/admin - handleGetStats} Failed to read catalog stats: %v", err)
			addLogEntry("error", fmt.Sprintf("Failed to read catalog stats: %v", err))
			writeAdminError(w, http.StatusInternalServerError, "Failed to read stats")
			return
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		stats := StatsResponse{
			Catalog:       catalog,
			Uptime:        formatDuration(time.Since(adminStartTime)),
			MemoryUsage:   utils.FormatBytes(int64(m.Alloc)),
			ActiveRelays:  tp.Relay.Active(),
			KnownDialects: len(tp.Dialects.Snapshot()),
			WorkerThreads: tp.Config.WorkerThreads,
			Enabled:       tp.Enabled(r.Context()),
		}
		if tp.EPGCache != nil {
			stats.CachedGuides = tp.EPGCache.Size()
			stats.CacheDuration = tp.EPGCache.Duration().String()
		}
		if tp.WorkerPool != nil {
			stats.RunningWorkers = tp.WorkerPool.Running()
		}

		writeAdminJSON(w, http.StatusOK, stats)
	}
}

func handleGetDialects(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := tp.Dialects.Snapshot()
		entries := make([]DialectEntry, 0, len(snapshot))
		for id, dialect := range snapshot {
			entries = append(entries, DialectEntry{AccountID: id, Dialect: dialect})
		}
		slices.SortFunc(entries, func(a, b DialectEntry) int {
			return cmp.Compare(a.AccountID, b.AccountID)
		})
		writeAdminJSON(w, http.StatusOK, entries)
	}
}

func handleResetDialects(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tp.Dialects.Reset()
		logger.Info("{main/admin - handleResetDialects} Dialect cache reset")
		addLogEntry("info", "Dialect cache reset via admin interface")
		writeAdminJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func handleForgetDialect(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := strconv.ParseInt(mux.Vars(r)["account"], 10, 64)
		if err != nil {
			writeAdminError(w, http.StatusBadRequest, "Invalid account id")
			return
		}

		if !tp.Dialects.Forget(accountID) {
			writeAdminError(w, http.StatusNotFound, "No dialect remembered for account")
			return
		}

		logger.Info("{main/admin - handleForgetDialect} Forgot dialect for account %d", accountID)
		addLogEntry("info", fmt.Sprintf("Dialect forgotten for account %d", accountID))
		writeAdminJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func handleGetSettings(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := tp.Settings(r.Context())
		if err != nil {
			logger.Error("{main/admin - handleGetSettings} Failed to read settings: %v", err)
			writeAdminError(w, http.StatusInternalServerError, "Failed to read settings")
			return
		}
		writeAdminJSON(w, http.StatusOK, settings)
	}
}

// handleSetSettings applies a partial update on top of the stored settings.
func handleSetSettings(tp *proxy.TimeshiftProxy, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := db.PluginSettings(r.Context())
		if err != nil {
			logger.Error("{main/admin - handleSetSettings} Failed to read settings: %v", err)
			writeAdminError(w, http.StatusInternalServerError, "Failed to read settings")
			return
		}

		if err := json.NewDecoder(r.Body).Decode(settings); err != nil {
			writeAdminError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}

		if settings.Timezone != "" {
			if _, err := proxy.LoadZone(settings.Timezone); err != nil {
				writeAdminError(w, http.StatusBadRequest, fmt.Sprintf("Invalid timezone: %s", settings.Timezone))
				return
			}
		}

		if err := db.SavePluginSettings(r.Context(), settings); err != nil {
			logger.Error("{main/admin - handleSetSettings} Failed to save settings: %v", err)
			writeAdminError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}

		// listings are rendered in the provider zone
		if tp.EPGCache != nil {
			tp.EPGCache.Clear()
		}

		logger.Info("{main/admin - handleSetSettings} Settings updated: enabled=%v timezone=%q language=%q",
			settings.Enabled, settings.Timezone, settings.Language)
		addLogEntry("info", "Settings updated via admin interface")
		writeAdminJSON(w, http.StatusOK, settings)
	}
}

func handleClearCache(tp *proxy.TimeshiftProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tp.EPGCache != nil {
			tp.EPGCache.Clear()
		}
		addLogEntry("info", "Guide cache cleared via admin interface")
		writeAdminJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func handleGetLogs(w http.ResponseWriter, r *http.Request) {
	logMu.Lock()
	entries := make([]LogEntry, len(logEntries))
	copy(entries, logEntries)
	logMu.Unlock()

	writeAdminJSON(w, http.StatusOK, entries)
}

func handleClearLogs(w http.ResponseWriter, r *http.Request) {
	logMu.Lock()
	logEntries = logEntries[:0]
	logMu.Unlock()

	addLogEntry("info", "Log entries cleared via admin interface")
	writeAdminJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// addLogEntry appends to the admin log, keeping the newest maxLogEntries.
func addLogEntry(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Level:     level,
		Message:   message,
	}

	logMu.Lock()
	defer logMu.Unlock()

	logEntries = append(logEntries, entry)
	if len(logEntries) > maxLogEntries {
		logEntries = append(logEntries[:0], logEntries[len(logEntries)-maxLogEntries:]...)
	}
}

func writeAdminJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{main/admin - writeAdminJSON} Failed to encode response: %v", err)
	}
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeAdminJSON(w, status, map[string]string{"error": message})
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
