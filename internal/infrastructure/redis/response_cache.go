package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/honeynil/paisa-tracker/internal/interceptor"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
)

const cachePrefix = "cache:"

// ResponseCache keeps interceptor responses under cache:<namespace>:<request key>
// so every worker replica sees the same versioned cache.
type ResponseCache struct {
	client RedisClient
}

func NewResponseCache(client RedisClient) *ResponseCache {
	return &ResponseCache{client: client}
}

func cacheKey(namespace, key string) string {
	return cachePrefix + namespace + ":" + key
}

func (c *ResponseCache) Put(ctx context.Context, namespace, key string, resp *interceptor.CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode cached response: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(namespace, key), string(raw), 0); err != nil {
		slog.Error("failed to cache response", "method", "Put", "namespace", namespace, "key", key, "error", err)
		return fmt.Errorf("failed to cache response: %w", err)
	}
	return nil
}

func (c *ResponseCache) Match(ctx context.Context, namespace, key string) (*interceptor.CachedResponse, error) {
	raw, err := c.client.Get(ctx, cacheKey(namespace, key))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, pkgerrors.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached response: %w", err)
	}
	var resp interceptor.CachedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		// битая запись ведёт себя как промах
		slog.Warn("dropping undecodable cache entry", "namespace", namespace, "key", key, "error", err)
		return nil, pkgerrors.ErrCacheMiss
	}
	return &resp, nil
}

func (c *ResponseCache) Namespaces(ctx context.Context) ([]string, error) {
	keys, err := c.client.Keys(ctx, cachePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list cache namespaces: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		ns, _, ok := strings.Cut(strings.TrimPrefix(k, cachePrefix), ":")
		if !ok || seen[ns] {
			continue
		}
		seen[ns] = true
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

func (c *ResponseCache) DeleteNamespace(ctx context.Context, namespace string) error {
	keys, err := c.client.Keys(ctx, cachePrefix+namespace+":*")
	if err != nil {
		return fmt.Errorf("failed to list cache namespace %s: %w", namespace, err)
	}
	for _, k := range keys {
		if err := c.client.Del(ctx, k); err != nil {
			slog.Error("failed to delete cache entry", "method", "DeleteNamespace", "key", k, "error", err)
			return fmt.Errorf("failed to delete cache namespace %s: %w", namespace, err)
		}
	}
	slog.Info("cache namespace deleted", "namespace", namespace, "entries", len(keys))
	return nil
}
