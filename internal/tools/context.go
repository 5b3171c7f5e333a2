package tools

import (
	"context"

	"github.com/agentcheck/agentcheck/internal/core"
)

type seedKey struct{}

// WithSeed attaches the session's seed so handlers can read the case under review.
func WithSeed(ctx context.Context, seed core.Seed) context.Context {
	return context.WithValue(ctx, seedKey{}, seed)
}

// SeedFrom returns the seed attached by WithSeed.
func SeedFrom(ctx context.Context) (core.Seed, bool) {
	seed, ok := ctx.Value(seedKey{}).(core.Seed)
	return seed, ok
}
