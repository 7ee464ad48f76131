package service

import (
	"context"

	"github.com/maypok86/otter/v2"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
)

// cachedCamera reuses stream option listings for a short time. Concurrent
// misses for the same camera share one fetch.
type cachedCamera struct {
	camera.Camera
	cache *otter.Cache[string, []camera.StreamOptions]
}

func (c *cachedCamera) StreamOptions(ctx context.Context) ([]camera.StreamOptions, error) {
	options, err := c.cache.Get(ctx, c.ID(), otter.LoaderFunc[string, []camera.StreamOptions](
		func(ctx context.Context, _ string) ([]camera.StreamOptions, error) {
			return c.Camera.StreamOptions(ctx)
		},
	))
	if err != nil {
		return nil, err
	}

	// Callers may annotate the result.
	out := make([]camera.StreamOptions, len(options))
	for i := range options {
		out[i] = *options[i].Clone()
	}
	return out, nil
}
