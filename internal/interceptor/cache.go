package interceptor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
)

// CachedResponse is the stored copy of a successful GET response.
type CachedResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// CacheStorage is a namespaced response cache, kept apart from the local
// store so a version purge never touches user data.
type CacheStorage interface {
	Put(ctx context.Context, namespace, key string, resp *CachedResponse) error
	// Match returns ErrCacheMiss when nothing is stored under key.
	Match(ctx context.Context, namespace, key string) (*CachedResponse, error)
	Namespaces(ctx context.Context) ([]string, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// RequestKey identifies a request by method and same-origin URL.
func RequestKey(req *http.Request) string {
	return req.Method + " " + req.URL.RequestURI()
}

func capture(resp *http.Response) (*CachedResponse, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return &CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

func (c *CachedResponse) Response(req *http.Request) *http.Response {
	return newResponse(req, c.Status, c.Header.Clone(), c.Body)
}

func newResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]*CachedResponse
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]map[string]*CachedResponse)}
}

func (m *MemoryCache) Put(_ context.Context, namespace, key string, resp *CachedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.entries[namespace]
	if !ok {
		ns = make(map[string]*CachedResponse)
		m.entries[namespace] = ns
	}
	cp := *resp
	cp.Header = resp.Header.Clone()
	cp.Body = append([]byte(nil), resp.Body...)
	ns[key] = &cp
	return nil
}

func (m *MemoryCache) Match(_ context.Context, namespace, key string) (*CachedResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[namespace][key]
	if !ok {
		return nil, pkgerrors.ErrCacheMiss
	}
	cp := *entry
	cp.Header = entry.Header.Clone()
	return &cp, nil
}

func (m *MemoryCache) Namespaces(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryCache) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, namespace)
	return nil
}

// Len is the number of entries under namespace.
func (m *MemoryCache) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[namespace])
}
