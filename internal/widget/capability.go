package widget

import (
	"context"
	"errors"
	"image"
	"sync"

	"golang.org/x/sync/singleflight"
)

const capabilityFlightKey = "renderer"

// ErrCapabilityUnavailable is returned when no loader is configured.
var ErrCapabilityUnavailable = errors.New("widget: screenshot capability unavailable")

// Renderer is the optional page-rendering capability used for screenshots.
type Renderer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// RendererLoadFunc injects the capability into the page and waits for it to load.
type RendererLoadFunc func(ctx context.Context) (Renderer, error)

// CapabilityLoader lazily loads the Renderer once. Concurrent callers share a single
// in-flight load; a failed load is not remembered, so the next caller retries.
type CapabilityLoader struct {
	load     RendererLoadFunc
	flight   singleflight.Group
	mutex    sync.Mutex
	renderer Renderer
}

func NewCapabilityLoader(load RendererLoadFunc) *CapabilityLoader {
	return &CapabilityLoader{load: load}
}

// Loaded reports whether the capability is already available.
func (loader *CapabilityLoader) Loaded() bool {
	loader.mutex.Lock()
	defer loader.mutex.Unlock()
	return loader.renderer != nil
}

// Get returns the loaded Renderer, loading it on first use.
func (loader *CapabilityLoader) Get(ctx context.Context) (Renderer, error) {
	if loader == nil || loader.load == nil {
		return nil, ErrCapabilityUnavailable
	}
	loader.mutex.Lock()
	renderer := loader.renderer
	loader.mutex.Unlock()
	if renderer != nil {
		return renderer, nil
	}

	resultChannel := loader.flight.DoChan(capabilityFlightKey, func() (any, error) {
		loader.mutex.Lock()
		existing := loader.renderer
		loader.mutex.Unlock()
		if existing != nil {
			return existing, nil
		}
		loaded, loadErr := loader.load(context.WithoutCancel(ctx))
		if loadErr != nil {
			return nil, loadErr
		}
		if loaded == nil {
			return nil, ErrCapabilityUnavailable
		}
		loader.mutex.Lock()
		loader.renderer = loaded
		loader.mutex.Unlock()
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChannel:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(Renderer), nil
	}
}
