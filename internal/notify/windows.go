package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type Window struct {
	ID      string
	URL     string
	Focused bool
}

// WindowClients enumerates and controls the open application windows.
type WindowClients interface {
	Windows(ctx context.Context) ([]Window, error)
	Focus(ctx context.Context, id string) (Window, error)
	Open(ctx context.Context, url string) (Window, error)
}

type WindowRegistry struct {
	mu      sync.Mutex
	windows map[string]*Window
	order   []string
}

func NewWindowRegistry() *WindowRegistry {
	return &WindowRegistry{windows: make(map[string]*Window)}
}

func (r *WindowRegistry) Windows(context.Context) ([]Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Window, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.windows[id])
	}
	return out, nil
}

func (r *WindowRegistry) Focus(_ context.Context, id string) (Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[id]
	if !ok {
		return Window{}, errWindowClosed
	}
	for _, other := range r.windows {
		other.Focused = false
	}
	w.Focused = true
	return *w, nil
}

func (r *WindowRegistry) Open(_ context.Context, url string) (Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.windows {
		other.Focused = false
	}
	w := &Window{ID: uuid.NewString(), URL: url, Focused: true}
	r.windows[w.ID] = w
	r.order = append(r.order, w.ID)
	return *w, nil
}

func (r *WindowRegistry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
