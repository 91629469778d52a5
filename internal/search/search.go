// Package search indexes saved documents for the builder's dashboard
// picker. Meilisearch is the primary backend when configured; PostgreSQL
// full-text search is the always-available fallback.
package search

import "time"

// Record is the indexed projection of a saved document.
type Record struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Headline  string    `json:"headline,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Query describes a dashboard search. Owner is mandatory: documents are
// only ever searchable by their owner.
type Query struct {
	Owner string
	Kind  string // empty = both kinds
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Record `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
