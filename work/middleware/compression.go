package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"kptv-timeshift/work/logger"

	"github.com/klauspost/compress/gzip"
)

// gzipWriterPool holds reusable gzip writers at BestSpeed. Listings and XMLTV
// documents are compressed on every request, so allocation matters more than ratio.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter routes body writes through a pooled gzip writer.
type gzipResponseWriter struct {
	io.Writer                // Pooled gzip writer
	http.ResponseWriter      // Original writer, used for headers and status
	wroteHeader         bool // Whether WriteHeader has been called
}

// WriteHeader drops any Content-Length set for the uncompressed body and sends
// the status once.
func (w *gzipResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	// the handler may have set a length for the uncompressed body
	w.ResponseWriter.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// Flush pushes buffered compressed bytes through to the client.
func (w *gzipResponseWriter) Flush() {
	if gzw, ok := w.Writer.(*gzip.Writer); ok {
		gzw.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// acceptsGzip reports whether the request lists gzip in Accept-Encoding.
func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

// GzipMiddleware compresses responses for clients that accept gzip. HEAD
// requests and clients without gzip support pass through unmodified.
//
// It always adds Vary: Accept-Encoding so caches keep the two forms apart.
// Writers come from a pool at gzip.BestSpeed and are closed when next
// returns, which flushes the gzip trailer. It is meant for the JSON and XMLTV
// documents; relayed media streams are never wrapped.
func GzipMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		if r.Method == http.MethodHead || !acceptsGzip(r) {
			next(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			if err := gz.Close(); err != nil {
				logger.Error("{middleware/compression - GzipMiddleware} Failed to close gzip writer for %s %s: %v", r.Method, r.URL.Path, err)
			}
			gzipWriterPool.Put(gz)
		}()

		next(&gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	}
}
