// Package tiers implements the three retrieval tiers (vector, graph,
// bayesian) the nexus pipeline fans a query out to.
package tiers

import (
	"context"
	"time"
)

// Candidate is one scored chunk from a tier, before fusion.
type Candidate struct {
	ChunkID string
	Score   float64 // normalized to [0, 1]; higher is better
	Source  string  // tier name: "vector", "graph", "bayesian"
}

// HealthStatus reports whether a tier is currently able to serve queries.
type HealthStatus struct {
	Healthy bool
	Reason  string
}

// Tier is the shared contract every retrieval tier implements so the
// nexus pipeline can fan a query out uniformly via errgroup.
type Tier interface {
	Name() string
	Query(ctx context.Context, query string, topK int) ([]Candidate, error)
	Health() HealthStatus
}

// defaultTimeout is a 2-second bound for a single tier call. No code in
// this package applies it: a tier call is bounded only by the caller's
// context.
const defaultTimeout = 2 * time.Second
