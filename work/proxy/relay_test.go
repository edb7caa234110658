package proxy

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kptv-timeshift/work/buffer"
	"kptv-timeshift/work/client"
	"kptv-timeshift/work/config"
	"kptv-timeshift/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testRelay(timeout time.Duration) (*Relay, *DialectCache, *client.HeaderSettingClient) {
	cfg := config.Default()
	cfg.UpstreamTimeout = timeout
	cfg.UpstreamRateLimit = 1000
	hsc := client.NewHeaderSettingClient(cfg)
	dialects := NewDialectCache()
	return NewRelay(cfg, hsc, dialects, buffer.NewBufferPool(buffer.ChunkSize)), dialects, hsc
}

func drain(t *testing.T, up *Upstream) []byte {
	t.Helper()
	var out bytes.Buffer
	for chunk, err := range up.Chunks() {
		require.NoError(t, err)
		require.LessOrEqual(t, len(chunk), buffer.ChunkSize)
		out.Write(chunk)
	}
	return out.Bytes()
}

func TestRelayForwardsRangeAndUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=100-", r.Header.Get("Range"))
		assert.Equal(t, "UA/1", r.Header.Get("User-Agent"))
		w.Header()["Content-Type"] = nil
		w.Header().Set("Content-Range", "bytes 100-109/110")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "10")
		w.Header().Set("X-Provider-Secret", "nope")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	relay, dialects, _ := testRelay(2 * time.Second)
	up, err := relay.Open(context.Background(), Target{
		AccountID: 1,
		Primary:   srv.URL + "/streaming/timeshift.php?stream=1",
		Fallback:  srv.URL + "/timeshift/pu/pp/95/2025-01-15:15-30/1.ts",
		UserAgent: "UA/1",
		Range:     "bytes=100-",
	})
	require.NoError(t, err)
	defer up.Close()

	assert.Equal(t, http.StatusPartialContent, up.Status)
	assert.Equal(t, "bytes 100-109/110", up.Header.Get("Content-Range"))
	assert.Equal(t, "bytes", up.Header.Get("Accept-Ranges"))
	assert.Equal(t, "10", up.Header.Get("Content-Length"))
	assert.Equal(t, DefaultContentType, up.Header.Get("Content-Type"))
	assert.Empty(t, up.Header.Get("X-Provider-Secret"))
	assert.Equal(t, "0123456789", string(drain(t, up)))

	_, known := dialects.Get(1)
	assert.False(t, known, "primary success must not record a dialect")
}

func TestRelayFallsBackOn400(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/streaming/") {
			primaryHits.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fallbackHits.Add(1)
		w.Header().Set("Content-Type", "video/MP2T")
		w.Header().Set("Content-Range", "bytes 0-3/4")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("abcd"))
	}))
	defer srv.Close()

	relay, dialects, _ := testRelay(2 * time.Second)
	up, err := relay.Open(context.Background(), Target{
		AccountID: 7,
		Primary:   srv.URL + "/streaming/timeshift.php?stream=1",
		Fallback:  srv.URL + "/timeshift/pu/pp/95/2025-01-15:15-30/1.ts",
	})
	require.NoError(t, err)
	defer up.Close()

	assert.Equal(t, http.StatusPartialContent, up.Status)
	assert.Equal(t, "video/MP2T", up.Header.Get("Content-Type"))
	assert.Equal(t, "abcd", string(drain(t, up)))
	assert.Equal(t, int32(1), primaryHits.Load())
	assert.Equal(t, int32(1), fallbackHits.Load())

	dialect, ok := dialects.Get(7)
	require.True(t, ok)
	assert.Equal(t, types.DialectB, dialect)
}

func TestRelayStatusErrors(t *testing.T) {
	tests := []struct {
		name         string
		primary      int
		fallback     int
		withFallback bool
		wantStatus   int
		wantFallback int32
	}{
		{"both dialects rejected", http.StatusBadRequest, http.StatusNotFound, true, http.StatusNotFound, 1},
		{"400 without fallback", http.StatusBadRequest, 0, false, http.StatusBadRequest, 0},
		{"non-400 failure skips fallback", http.StatusInternalServerError, http.StatusOK, true, http.StatusInternalServerError, 0},
		{"forbidden", http.StatusForbidden, http.StatusOK, true, http.StatusForbidden, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fallbackHits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/streaming/") {
					w.WriteHeader(tt.primary)
					return
				}
				fallbackHits.Add(1)
				w.WriteHeader(tt.fallback)
			}))
			defer srv.Close()

			relay, dialects, _ := testRelay(2 * time.Second)
			target := Target{AccountID: 3, Primary: srv.URL + "/streaming/timeshift.php"}
			if tt.withFallback {
				target.Fallback = srv.URL + "/timeshift/pu/pp/120/2025-01-15:15-30/1.ts"
			}

			up, err := relay.Open(context.Background(), target)
			assert.Nil(t, up)

			var statusErr *UpstreamStatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.wantStatus, statusErr.Status)
			assert.ErrorIs(t, err, ErrUpstreamStatus)
			assert.Equal(t, tt.wantFallback, fallbackHits.Load())

			_, known := dialects.Get(3)
			assert.False(t, known)
		})
	}
}

func TestRelayTimeoutDoesNotFallBack(t *testing.T) {
	var fallbackHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/streaming/") {
			fallbackHits.Add(1)
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	relay, _, _ := testRelay(150 * time.Millisecond)
	started := time.Now()
	up, err := relay.Open(context.Background(), Target{
		AccountID: 1,
		Primary:   srv.URL + "/streaming/timeshift.php",
		Fallback:  srv.URL + "/timeshift/pu/pp/120/2025-01-15:15-30/1.ts",
	})
	assert.Nil(t, up)
	require.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.Less(t, time.Since(started), 3*time.Second)
	assert.Equal(t, int32(0), fallbackHits.Load())

	status, body := StatusFor(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Provider timeout", body)
}

func TestRelayIdleBodyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	relay, _, _ := testRelay(150 * time.Millisecond)
	up, err := relay.Open(context.Background(), Target{AccountID: 1, Primary: srv.URL + "/streaming/timeshift.php"})
	require.NoError(t, err)
	defer up.Close()

	var got []byte
	var readErr error
	for chunk, err := range up.Chunks() {
		if err != nil {
			readErr = err
			break
		}
		got = append(got, chunk...)
	}
	assert.Equal(t, "first", string(got))
	assert.ErrorIs(t, readErr, ErrUpstreamTimeout)
}

func TestRelayConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()

	relay, _, _ := testRelay(time.Second)
	_, err := relay.Open(context.Background(), Target{AccountID: 1, Primary: deadURL + "/streaming/timeshift.php"})
	require.ErrorIs(t, err, ErrUpstreamConnection)

	status, body := StatusFor(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Provider connection error", body)
}

func TestRelaySkipsRequestWhenClientLeavesDuringRateLimitWait(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.UpstreamTimeout = 2 * time.Second
	cfg.UpstreamRateLimit = 1
	relay := NewRelay(cfg, client.NewHeaderSettingClient(cfg), NewDialectCache(), nil)

	up, err := relay.Open(context.Background(), Target{AccountID: 1, Primary: srv.URL})
	require.NoError(t, err)
	up.Close()
	require.Equal(t, int32(1), hits.Load())

	// the next permit for account 1 is about a second away
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = relay.Open(ctx, Target{AccountID: 1, Primary: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int64(0), relay.Active())
}

func TestUpstreamChunksAreSingleUse(t *testing.T) {
	payload := bytes.Repeat([]byte{0x47}, 3*buffer.ChunkSize+100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	relay, _, _ := testRelay(2 * time.Second)
	up, err := relay.Open(context.Background(), Target{AccountID: 1, Primary: srv.URL})
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, int64(1), relay.Active())

	assert.Equal(t, payload, drain(t, up))

	var second error
	for _, err := range up.Chunks() {
		second = err
	}
	assert.ErrorIs(t, second, ErrBodyConsumed)

	assert.NoError(t, up.Close())
	assert.NoError(t, up.Close())
	assert.Equal(t, int64(0), relay.Active())
}

func TestRelayReleasesUpstreamWhenClientLeaves(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	upstreamDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		w.WriteHeader(http.StatusOK)
		chunk := bytes.Repeat([]byte{0x47}, 1024)
		for {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))

	relay, _, hsc := testRelay(2 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up, err := relay.Open(ctx, Target{AccountID: 1, Primary: srv.URL})
	require.NoError(t, err)

	var readErr error
	received := 0
	for chunk, err := range up.Chunks() {
		if err != nil {
			readErr = err
			break
		}
		received += len(chunk)
		if received > 4096 {
			cancel()
		}
	}
	require.NoError(t, up.Close())
	assert.True(t, errors.Is(readErr, context.Canceled), "got %v", readErr)

	select {
	case <-upstreamDone:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream handler still streaming after client left")
	}

	hsc.Client.CloseIdleConnections()
	srv.Close()
}
