package interceptor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/localstore"
	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyTransport fails every request while down is set. With truncate set,
// response bodies break off after a few bytes.
type flakyTransport struct {
	base     http.RoundTripper
	down     atomic.Bool
	truncate atomic.Bool
	calls    atomic.Int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	resp, err := f.base.RoundTrip(req)
	if err != nil || !f.truncate.Load() {
		return resp, err
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(io.MultiReader(strings.NewReader(`[{"id"`), brokenReader{}))
	return resp, nil
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func origin(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"id":1}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":1}]`)
	})
	mux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>"+r.URL.Path+"</html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newActive(t *testing.T, srv *httptest.Server, cache CacheStorage, version string) (*Interceptor, *flakyTransport) {
	t.Helper()
	ft := &flakyTransport{base: srv.Client().Transport}
	i, err := New(ft, srv.URL, cache, version)
	require.NoError(t, err)
	require.NoError(t, i.Install(context.Background()))
	require.NoError(t, i.Activate(context.Background()))
	ft.calls.Store(0)
	return i, ft
}

func get(t *testing.T, i *Interceptor, rawURL string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := i.RoundTrip(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestClassify(t *testing.T) {
	o, _ := url.Parse("http://app.local")
	tests := []struct {
		name   string
		url    string
		header map[string]string
		want   Class
	}{
		{"cross origin", "https://fonts.example.com/a.css", nil, ClassPassthrough},
		{"api", "http://app.local/api/transactions", nil, ClassAPI},
		{"navigate header", "http://app.local/reminders", map[string]string{"Sec-Fetch-Mode": "navigate"}, ClassNavigation},
		{"html accept", "http://app.local/", map[string]string{"Accept": "text/html,application/xhtml+xml"}, ClassNavigation},
		{"static", "http://app.local/assets/app.js", nil, ClassStatic},
		{"api beats navigate", "http://app.local/api/user", map[string]string{"Sec-Fetch-Mode": "navigate"}, ClassAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, Classify(o, req))
		})
	}
}

func TestStatic_CacheFirstSkipsNetwork(t *testing.T) {
	srv := origin(t)
	i, ft := newActive(t, srv, NewMemoryCache(), "v1")

	first := get(t, i, srv.URL+"/assets/app.js", nil)
	assert.Equal(t, "<html>/assets/app.js</html>", body(t, first))
	calls := ft.calls.Load()
	assert.Equal(t, int32(1), calls)

	second := get(t, i, srv.URL+"/assets/app.js", nil)
	assert.Equal(t, "<html>/assets/app.js</html>", body(t, second))
	assert.Equal(t, calls, ft.calls.Load())

	// предзагруженные ресурсы вообще не ходят в сеть
	get(t, i, srv.URL+"/manifest.json", nil)
	assert.Equal(t, calls, ft.calls.Load())
}

func TestAPI_OfflineWithoutCacheSynthesizes503(t *testing.T) {
	srv := origin(t)
	i, ft := newActive(t, srv, NewMemoryCache(), "v1")
	ft.down.Store(true)

	resp := get(t, i, srv.URL+"/api/transactions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(OfflineHeader))
	assert.JSONEq(t, `{"error":"Network offline and no cached data available"}`, body(t, resp))
}

func TestAPI_NetworkFirstFallsBackToCache(t *testing.T) {
	srv := origin(t)
	i, ft := newActive(t, srv, NewMemoryCache(), "v1")

	online := get(t, i, srv.URL+"/api/transactions", nil)
	assert.Equal(t, `[{"id":1}]`, body(t, online))

	ft.down.Store(true)
	offline := get(t, i, srv.URL+"/api/transactions", nil)
	assert.Equal(t, http.StatusOK, offline.StatusCode)
	assert.Empty(t, offline.Header.Get(OfflineHeader))
	assert.Equal(t, `[{"id":1}]`, body(t, offline))
}

func TestAPI_OnlyGetSuccessesAreCached(t *testing.T) {
	srv := origin(t)
	cache := NewMemoryCache()
	i, _ := newActive(t, srv, cache, "v1")
	before := cache.Len(i.Namespace())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/transactions", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp, err := i.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	unauthorized := get(t, i, srv.URL+"/api/user", nil)
	assert.Equal(t, http.StatusUnauthorized, unauthorized.StatusCode)

	assert.Equal(t, before, cache.Len(i.Namespace()))
}

func TestNavigation_OfflinePageFallback(t *testing.T) {
	srv := origin(t)
	i, ft := newActive(t, srv, NewMemoryCache(), "v1")
	ft.down.Store(true)

	resp := get(t, i, srv.URL+"/never-visited", map[string]string{"Sec-Fetch-Mode": "navigate"})
	assert.Equal(t, "<html>/offline.html</html>", body(t, resp))

	cached := get(t, i, srv.URL+"/", map[string]string{"Sec-Fetch-Mode": "navigate"})
	assert.Equal(t, "<html>/</html>", body(t, cached))
}

func TestNavigation_BuiltInPageWhenNothingCached(t *testing.T) {
	srv := origin(t)
	ft := &flakyTransport{base: srv.Client().Transport}
	i, err := New(ft, srv.URL, NewMemoryCache(), "v1", WithManifest(nil))
	require.NoError(t, err)
	require.NoError(t, i.Activate(context.Background()))
	ft.down.Store(true)

	resp := get(t, i, srv.URL+"/", map[string]string{"Accept": "text/html"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body(t, resp), "You are offline")
}

func TestStatic_ImagePlaceholderAndErrors(t *testing.T) {
	srv := origin(t)
	i, ft := newActive(t, srv, NewMemoryCache(), "v1")
	ft.down.Store(true)

	img := get(t, i, srv.URL+"/avatars/raju.png", nil)
	assert.Equal(t, http.StatusOK, img.StatusCode)
	assert.Empty(t, body(t, img))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/assets/chunk.js", nil)
	require.NoError(t, err)
	_, err = i.RoundTrip(req)
	assert.Error(t, err)
}

func TestCrossOriginPassesThrough(t *testing.T) {
	srv := origin(t)
	other := origin(t)
	cache := NewMemoryCache()
	i, ft := newActive(t, srv, cache, "v1")
	before := cache.Len(i.Namespace())

	get(t, i, other.URL+"/assets/lib.js", nil)
	get(t, i, other.URL+"/assets/lib.js", nil)
	assert.Equal(t, int32(2), ft.calls.Load())
	assert.Equal(t, before, cache.Len(i.Namespace()))
}

func TestInactiveInterceptorDoesNotCache(t *testing.T) {
	srv := origin(t)
	cache := NewMemoryCache()
	i, err := New(srv.Client().Transport, srv.URL, cache, "v1")
	require.NoError(t, err)

	get(t, i, srv.URL+"/assets/app.js", nil)
	assert.False(t, i.Active())
	assert.Zero(t, cache.Len(i.Namespace()))
}

func TestInstall_FailsWhenAnAssetIsMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	cache := NewMemoryCache()
	i, err := New(srv.Client().Transport, srv.URL, cache, "v1")
	require.NoError(t, err)

	assert.Error(t, i.Install(context.Background()))
	names, err := cache.Namespaces(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestActivate_PurgesOldVersionButNotLocalStore(t *testing.T) {
	srv := origin(t)
	cache := NewMemoryCache()
	ctx := context.Background()

	store := localstore.NewMemoryStore()
	require.NoError(t, store.Initialize(ctx))
	repo := localstore.NewRepository(store)
	require.NoError(t, repo.AddTransaction(ctx, &models.Transaction{
		Type:   models.TypeGive,
		Amount: decimal.NewFromInt(500),
		To:     "Raju",
	}))

	old, _ := newActive(t, srv, cache, "v1")
	get(t, old, srv.URL+"/api/transactions", nil)
	require.NotZero(t, cache.Len("paisa-tracker-v1"))

	changes := events.NewDispatcher[events.ControllerChange]()
	ch, cancel := changes.Subscribe()
	defer cancel()

	next, err := New(srv.Client().Transport, srv.URL, cache, "v2", WithControllerEvents(changes))
	require.NoError(t, err)
	require.NoError(t, next.Install(ctx))
	require.NoError(t, next.Activate(ctx))

	names, err := cache.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"paisa-tracker-v2"}, names)
	assert.Equal(t, events.ControllerChange{Version: "paisa-tracker-v2"}, <-ch)

	txs, err := repo.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestProxy_ServesFromCacheWhenOriginIsDown(t *testing.T) {
	srv := origin(t)
	i, ft := newActive(t, srv, NewMemoryCache(), "v1")
	target, _ := url.Parse(srv.URL)
	front := httptest.NewServer(i.Proxy(target))
	defer front.Close()

	ft.down.Store(true)
	resp, err := http.Get(front.URL + "/api/transactions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(OfflineHeader))
}

func TestTruncatedBodyCountsAsFailedFetch(t *testing.T) {
	srv := origin(t)
	i, ft := newActive(t, srv, NewMemoryCache(), "v1")

	first := get(t, i, srv.URL+"/api/transactions", nil)
	assert.Equal(t, `[{"id":1}]`, body(t, first))

	ft.truncate.Store(true)
	resp := get(t, i, srv.URL+"/api/transactions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `[{"id":1}]`, body(t, resp), "cached copy instead of the truncated body")

	fresh := get(t, i, srv.URL+"/api/reminders", nil)
	assert.Equal(t, http.StatusServiceUnavailable, fresh.StatusCode)
	assert.Equal(t, "1", fresh.Header.Get(OfflineHeader))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/app.js", nil)
	require.NoError(t, err)
	_, err = i.RoundTrip(req)
	assert.ErrorIs(t, err, pkgerrors.ErrNetworkUnreachable)
}
