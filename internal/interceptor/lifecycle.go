package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/honeynil/paisa-tracker/internal/events"
)

// Install fetches every manifest entry and caches them together. One failed
// fetch fails the whole install and nothing is written.
func (i *Interceptor) Install(ctx context.Context) error {
	slog.Info("installing interceptor", "namespace", i.namespace, "assets", len(i.manifest))

	entries := make(map[string]*CachedResponse, len(i.manifest))
	for _, p := range i.manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.origin.ResolveReference(&url.URL{Path: p}).String(), nil)
		if err != nil {
			return fmt.Errorf("failed to build precache request for %s: %w", p, err)
		}
		resp, err := i.base.RoundTrip(req)
		if err != nil {
			slog.Error("failed to precache asset", "path", p, "error", err)
			return fmt.Errorf("failed to precache %s: %w", p, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return fmt.Errorf("failed to precache %s: status %d", p, resp.StatusCode)
		}
		entry, err := capture(resp)
		if err != nil {
			return err
		}
		entries[RequestKey(req)] = entry
	}

	for key, entry := range entries {
		if err := i.cache.Put(ctx, i.namespace, key, entry); err != nil {
			return fmt.Errorf("failed to store precached asset %s: %w", key, err)
		}
	}
	slog.Info("precache complete", "namespace", i.namespace)
	return nil
}

// Activate purges every other namespace and takes control immediately.
func (i *Interceptor) Activate(ctx context.Context) error {
	names, err := i.cache.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache namespaces: %w", err)
	}
	for _, name := range names {
		if name == i.namespace {
			continue
		}
		if err := i.cache.DeleteNamespace(ctx, name); err != nil {
			return fmt.Errorf("failed to delete cache namespace %s: %w", name, err)
		}
		slog.Info("old cache deleted", "namespace", name)
	}

	i.active.Store(true)
	slog.Info("interceptor activated and controlling", "namespace", i.namespace)
	if i.controller != nil {
		if err := i.controller.Publish(ctx, events.ControllerChange{Version: i.namespace}); err != nil {
			slog.Error("failed to announce controller change", "error", err)
		}
	}
	return nil
}
