package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"

	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
)

const (
	CachePrefix = "paisa-tracker-"
	OfflinePage = "/offline.html"

	// OfflineHeader marks responses synthesized because the network was
	// unreachable and nothing was cached.
	OfflineHeader  = "X-Offline-Fallback"
	OfflineMessage = "Network offline and no cached data available"
)

var offlineBody = []byte(`{"error":"` + OfflineMessage + `"}`)

const fallbackPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>Your data is saved on this device and will sync when you reconnect.</p></body>
</html>
`

// DefaultManifest is the critical asset list fetched on install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	OfflinePage,
	"/manifest.json",
	"/icons/icon-72x72.png",
	"/icons/icon-96x96.png",
	"/icons/icon-128x128.png",
	"/icons/icon-144x144.png",
	"/icons/icon-152x152.png",
	"/icons/icon-192x192.png",
	"/icons/icon-384x384.png",
	"/icons/icon-512x512.png",
	"/sounds/notification.mp3",
}

// Interceptor resolves every same-origin request through a caching strategy
// chosen by request class. It only applies strategies once activated; before
// that, requests go straight to the base transport.
type Interceptor struct {
	base       http.RoundTripper
	origin     *url.URL
	cache      CacheStorage
	namespace  string
	manifest   []string
	controller *events.Dispatcher[events.ControllerChange]
	active     atomic.Bool
}

type Option func(*Interceptor)

func WithManifest(paths []string) Option {
	return func(i *Interceptor) { i.manifest = paths }
}

func WithControllerEvents(d *events.Dispatcher[events.ControllerChange]) Option {
	return func(i *Interceptor) { i.controller = d }
}

func New(base http.RoundTripper, origin string, cache CacheStorage, version string, opts ...Option) (*Interceptor, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", origin)
	}
	if base == nil {
		base = http.DefaultTransport
	}
	i := &Interceptor{
		base:      base,
		origin:    u,
		cache:     cache,
		namespace: CachePrefix + version,
		manifest:  DefaultManifest,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *Interceptor) Namespace() string {
	return i.namespace
}

func (i *Interceptor) Active() bool {
	return i.active.Load()
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	class := Classify(i.origin, req)
	if !i.active.Load() || class == ClassPassthrough {
		observability.InterceptedRequests.WithLabelValues(string(class), "passthrough").Inc()
		return i.base.RoundTrip(req)
	}

	var (
		resp    *http.Response
		outcome string
		err     error
	)
	switch class {
	case ClassAPI:
		resp, outcome = i.networkFirst(req, i.offlineAPI)
	case ClassNavigation:
		resp, outcome = i.networkFirst(req, i.offlineNavigation)
	default:
		resp, outcome, err = i.cacheFirst(req)
	}
	observability.InterceptedRequests.WithLabelValues(string(class), outcome).Inc()
	return resp, err
}

// networkFirst returns the network answer whatever its status; only a
// transport failure falls back to the cached entry and then to fallback.
func (i *Interceptor) networkFirst(req *http.Request, fallback func(*http.Request) (*http.Response, string)) (*http.Response, string) {
	resp, err := i.base.RoundTrip(req)
	if err == nil {
		if err = i.store(req, resp); err == nil {
			return resp, "network"
		}
	}
	slog.Warn("fetch failed, serving from cache", "method", req.Method, "url", req.URL.String(), "error", err)

	if cached := i.match(req.Context(), RequestKey(req)); cached != nil {
		return cached.Response(req), "cache"
	}
	return fallback(req)
}

func (i *Interceptor) offlineAPI(req *http.Request) (*http.Response, string) {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(OfflineHeader, "1")
	return newResponse(req, http.StatusServiceUnavailable, header, offlineBody), "offline"
}

func (i *Interceptor) offlineNavigation(req *http.Request) (*http.Response, string) {
	if page := i.match(req.Context(), http.MethodGet+" "+OfflinePage); page != nil {
		return page.Response(req), "offline-page"
	}
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set(OfflineHeader, "1")
	return newResponse(req, http.StatusServiceUnavailable, header, []byte(fallbackPage)), "offline-page"
}

func (i *Interceptor) cacheFirst(req *http.Request) (*http.Response, string, error) {
	if cached := i.match(req.Context(), RequestKey(req)); cached != nil {
		return cached.Response(req), "cache", nil
	}

	resp, err := i.base.RoundTrip(req)
	if err == nil {
		if err = i.store(req, resp); err == nil {
			return resp, "network", nil
		}
	}
	if isImage(req) {
		// картинка не критична: пустой ответ вместо ошибки
		return newResponse(req, http.StatusOK, nil, nil), "placeholder", nil
	}
	slog.Warn("fetch failed for static resource", "url", req.URL.String(), "error", err)
	return nil, "error", fmt.Errorf("%w: %w", pkgerrors.ErrNetworkUnreachable, err)
}

// store caches GET 2xx responses only. A body that cannot be read in full
// fails the fetch; a cache write failure does not.
func (i *Interceptor) store(req *http.Request, resp *http.Response) error {
	if req.Method != http.MethodGet || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}
	entry, err := capture(resp)
	if err != nil {
		slog.Error("failed to capture response for cache", "url", req.URL.String(), "error", err)
		return err
	}
	if err := i.cache.Put(req.Context(), i.namespace, RequestKey(req), entry); err != nil {
		slog.Error("failed to cache response", "namespace", i.namespace, "url", req.URL.String(), "error", err)
	}
	return nil
}

func (i *Interceptor) match(ctx context.Context, key string) *CachedResponse {
	entry, err := i.cache.Match(ctx, i.namespace, key)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrCacheMiss) {
			slog.Error("failed to read response cache", "namespace", i.namespace, "key", key, "error", err)
		}
		return nil
	}
	return entry
}

// Proxy fronts target with a reverse proxy whose transport is the interceptor.
func (i *Interceptor) Proxy(target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = i
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("proxy request failed", "url", r.URL.String(), "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}
