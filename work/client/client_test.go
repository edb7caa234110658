package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"kptv-timeshift/work/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderSettingClientKeepsCallerUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-UA", r.Header.Get("User-Agent"))
		w.Header().Set("X-Seen-Accept", r.Header.Get("Accept"))
	}))
	defer srv.Close()

	hsc := NewHeaderSettingClient(config.Default())

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Provider/2.0")

	resp, err := hsc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Provider/2.0", resp.Header.Get("X-Seen-UA"))
	assert.Equal(t, "*/*", resp.Header.Get("X-Seen-Accept"))
}

func TestHeaderSettingClientDefaultsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-UA", r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	hsc := NewHeaderSettingClient(config.Default())
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := hsc.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, DefaultUserAgent, resp.Header.Get("X-Seen-UA"))
}

func TestCustomResponseWriterTracksStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	crw := NewCustomResponseWriter(rec)

	_, err := crw.Write([]byte("hello"))
	require.NoError(t, err)
	crw.WriteHeader(http.StatusTeapot)
	crw.Flush()

	assert.Equal(t, http.StatusOK, crw.StatusCode())
	assert.Equal(t, int64(5), crw.BytesWritten())
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
}
