package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kptv-timeshift/work/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveLive(t *testing.T, tp *TimeshiftProxy, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, ok := parser.ParseLivePath(path)
	require.True(t, ok, path)

	rec := httptest.NewRecorder()
	tp.ServeLive(rec, httptest.NewRequest(http.MethodGet, path, nil), req)
	return rec
}

func TestServeLiveRelaysAdvertisedProviderID(t *testing.T) {
	p := newProvider(t, servePayload("LIVEDATA"))
	tp, _ := newTestProxy(t, p.URL, nil)
	ctx := context.Background()

	alice, err := tp.Resolver.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	listing, err := tp.LiveStreams(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(22371), listing[0].StreamID)

	rec := serveLive(t, tp, "/live/alice/s3cret/22371.ts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "LIVEDATA", rec.Body.String())

	seen := p.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, "/live/pu/pp/22371.ts", seen[0].URL.Path)
	assert.Equal(t, "UA/1", seen[0].Header.Get("User-Agent"))
}

func TestServeLiveResolvesInternalChannelID(t *testing.T) {
	p := newProvider(t, servePayload("PLAIN"))
	tp, _ := newTestProxy(t, p.URL, nil)

	// channel 103 is only reachable by its own id since its stream is not XC
	rec := serveLive(t, tp, "/live/alice/s3cret/103.ts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PLAIN", rec.Body.String())

	seen := p.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, "/plain/news.ts", seen[0].URL.Path)
}

func TestServeLiveErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"bad secret", "/live/alice/wrong/22371.ts", http.StatusForbidden, "Invalid credentials"},
		{"unknown id", "/live/alice/s3cret/99999.ts", http.StatusNotFound, "Channel not found"},
		{"level too low is hidden", "/live/alice/s3cret/40001.ts", http.StatusNotFound, "Channel not found"},
		{"level too low by channel id", "/live/alice/s3cret/102.ts", http.StatusNotFound, "Channel not found"},
		{"channel without stream url", "/live/alice/s3cret/101.ts", http.StatusNotFound, "Channel not found"},
	}

	p := newProvider(t, servePayload("LIVEDATA"))
	tp, _ := newTestProxy(t, p.URL, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveLive(t, tp, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
		})
	}
	assert.Empty(t, p.seen())
}

func TestServeLiveProviderStatus(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	tp, _ := newTestProxy(t, p.URL, nil)

	rec := serveLive(t, tp, "/live/alice/s3cret/22371.ts")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Provider error: 400", strings.TrimSpace(rec.Body.String()))

	// live URLs have no alternate dialect to retry
	assert.Len(t, p.seen(), 1)
	_, remembered := tp.Dialects.Get(1)
	assert.False(t, remembered)
}
