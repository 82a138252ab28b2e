// Package vectorindex defines the VectorIndex capability interface (spec
// §6: "vector store internals... treated as capability interfaces") plus a
// Qdrant-backed implementation. Ticket embeddings are upserted through this
// interface (pkg/ticket, via an adapter in cmd/hephaestusd) rather than by
// talking to Qdrant directly; TaskSimilarityService does not use it and
// compares task embeddings loaded from the store instead.
package vectorindex

import "context"

// Point is one embedded entity (a Task or a Ticket) addressable by id,
// carrying its vector and a small payload of filterable metadata.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Match is one search result: a Point plus its similarity score against
// the query vector.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Index is the capability interface every embedding-backed lookup goes
// through (spec §4.3).
type Index interface {
	// Upsert inserts or replaces a point in collection.
	Upsert(ctx context.Context, collection string, p Point) error

	// Search returns the topK nearest points to query, optionally filtered
	// by exact-match metadata fields.
	Search(ctx context.Context, collection string, query []float32, topK int, filter map[string]string) ([]Match, error)

	// Delete removes a point by id.
	Delete(ctx context.Context, collection, id string) error
}
