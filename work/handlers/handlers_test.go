package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kptv-timeshift/work/buffer"
	"kptv-timeshift/work/cache"
	"kptv-timeshift/work/client"
	"kptv-timeshift/work/config"
	"kptv-timeshift/work/database"
	"kptv-timeshift/work/parser"
	"kptv-timeshift/work/proxy"
	"kptv-timeshift/work/types"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router *mux.Router
	db     *database.DB
	hits   *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var hits atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write([]byte("TSDATA"))
	}))
	t.Cleanup(provider.Close)

	db, err := database.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Seed(context.Background(), &database.SeedFile{
		Accounts: []database.SeedAccount{
			{ID: 1, Name: "xc", ServerURL: provider.URL, Username: "pu", Password: "pp", AccountType: "XC"},
		},
		Streams: []database.SeedStream{
			{ID: 10, Name: "News HD", AccountID: 1, URL: provider.URL + "/live/pu/pp/22371.ts", Properties: map[string]any{"stream_id": 22371, "tv_archive": 1}},
		},
		Channels: []database.SeedChannel{
			{ID: 100, Name: "News", Number: 1, Streams: []int64{10}},
		},
		Users: []database.SeedUser{
			{Username: "alice", UserLevel: 1, CatchupSecret: "s3cret"},
		},
	}))

	cfg := config.Default()
	cfg.UpstreamTimeout = 2 * time.Second
	cfg.UpstreamRateLimit = 1000
	tp := proxy.New(cfg, db, client.NewHeaderSettingClient(cfg), buffer.NewBufferPool(0), nil,
		cache.NewEPGCache(time.Minute, 100))

	router := mux.NewRouter()
	RegisterRoutes(router, tp)
	router.PathPrefix("/").HandlerFunc(HandleNotFound())

	return &fixture{router: router, db: db, hits: &hits}
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestTimeshiftRouteWinsOverCatchAll(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/timeshift/alice/s3cret/155/2025-01-15:14-30/22371.ts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TSDATA", rec.Body.String())
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), f.hits.Load())

	rec = f.get("/timeshift/alice/wrong/155/2025-01-15:14-30/22371.ts")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTimeshiftRouteFallsThroughWhenDisabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.SavePluginSettings(context.Background(), &types.PluginSettings{Enabled: false}))

	rec := f.get("/timeshift/alice/s3cret/155/2025-01-15:14-30/22371.ts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(0), f.hits.Load())

	rec = f.get("/player_api.php?username=alice&password=s3cret&action=get_live_streams")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiveRoutePlaysAdvertisedStreamID(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/player_api.php?username=alice&password=s3cret&action=get_live_streams")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing []parser.XCLiveStream
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing, 1)
	require.Equal(t, 1, listing[0].TVArchive)

	rec = f.get("/live/alice/s3cret/" + strconv.FormatInt(listing[0].StreamID, 10) + ".ts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TSDATA", rec.Body.String())
	assert.Equal(t, int32(1), f.hits.Load())

	// the internal channel id plays the same stream
	rec = f.get("/live/alice/s3cret/100.ts")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), f.hits.Load())

	rec = f.get("/live/alice/wrong/22371.ts")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestLiveRouteFallsThroughWhenDisabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.SavePluginSettings(context.Background(), &types.PluginSettings{Enabled: false}))

	rec := f.get("/live/alice/s3cret/22371.ts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestNonMatchingPathsFallThrough(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/timeshift/alice/s3cret/abc/2025-01-15:14-30/22371.ts",
		"/timeshift/alice/s3cret/155/2025-01-15:14-30/22371.m3u8",
		"/live/alice/s3cret/abc.ts",
		"/movie/alice/s3cret/22371.mkv",
	} {
		rec := f.get(path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestPlayerAPILiveStreams(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/player_api.php?username=alice&password=s3cret&action=get_live_streams")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var listing []parser.XCLiveStream
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing, 1)
	assert.Equal(t, int64(22371), listing[0].StreamID)
	assert.Equal(t, 1, listing[0].TVArchive)
	assert.Equal(t, types.DefaultArchiveDays, listing[0].TVArchiveDuration)
}

func TestPlayerAPIErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"bad password", "username=alice&password=nope&action=get_live_streams", http.StatusForbidden, "Invalid credentials"},
		{"unknown action", "username=alice&password=s3cret&action=get_vod_streams", http.StatusBadRequest, "Unsupported action"},
		{"missing stream id", "username=alice&password=s3cret&action=get_simple_data_table", http.StatusBadRequest, "Missing stream_id"},
		{"unknown stream", "username=alice&password=s3cret&action=get_simple_data_table&stream_id=424242", http.StatusNotFound, "Channel not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get("/player_api.php?" + tt.query)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, strings.TrimSpace(rec.Body.String()))
		})
	}
}

func TestPlayerAPISimpleDataTable(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/player_api.php?username=alice&password=s3cret&action=get_simple_data_table&stream_id=22371")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"epg_listings":[]}`, rec.Body.String())
}

func TestXMLTVWithoutSource(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/xmltv.php")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
