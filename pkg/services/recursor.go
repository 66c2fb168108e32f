package services

import (
	"context"
	"fmt"

	"github.com/empiworks/empi-engine/pkg/models"
	"github.com/empiworks/empi-engine/pkg/repositories"
)

// Traversal is the outcome of one recursor walk: every touched edge once, in
// discovery order, and every record reached, seed first.
type Traversal struct {
	Seed    int64
	Edges   []*models.EnterpriseMatch
	Visited []int64
}

type pairKey struct {
	low, high int64
}

// Recursor walks the match graph breadth-first on a work queue. Edges are
// followed regardless of validity so invalidated pairs still reach the
// cursor; only weights at or above the threshold expand the frontier, so a
// walk covers one strong component plus the weak edges hanging off it.
type Recursor struct {
	edges     repositories.EnterpriseRepository
	threshold float64
}

// NewRecursor creates a Recursor over the match graph.
func NewRecursor(edges repositories.EnterpriseRepository, threshold float64) *Recursor {
	return &Recursor{edges: edges, threshold: threshold}
}

// Walk explores the component around seed. The walk terminates because the
// visited set only grows and the edge table is finite.
func (r *Recursor) Walk(ctx context.Context, seed int64) (*Traversal, error) {
	t := &Traversal{Seed: seed}
	visited := make(map[int64]bool)
	reported := make(map[pairKey]bool)
	queue := []int64{seed}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visited[node] {
			continue
		}
		visited[node] = true
		t.Visited = append(t.Visited, node)

		edges, err := r.edges.ListEdgesTouching(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("failed to walk edges of record %d: %w", node, err)
		}
		for _, edge := range edges {
			key := pairKey{low: edge.RecordIDLow, high: edge.RecordIDHigh}
			if !reported[key] {
				reported[key] = true
				t.Edges = append(t.Edges, edge)
			}
			if edge.MatchWeight < r.threshold {
				continue
			}
			other := edge.RecordIDLow
			if other == node {
				other = edge.RecordIDHigh
			}
			if !visited[other] {
				queue = append(queue, other)
			}
		}
	}
	return t, nil
}

// Triples renders the walk's edges as weighted graph input for the cursor.
func (t *Traversal) Triples() []models.Edge {
	triples := make([]models.Edge, 0, len(t.Edges))
	for _, e := range t.Edges {
		triples = append(triples, models.Edge{
			RecordIDLow:  e.RecordIDLow,
			RecordIDHigh: e.RecordIDHigh,
			Weight:       e.MatchWeight,
		})
	}
	return triples
}
