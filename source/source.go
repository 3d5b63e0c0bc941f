// Package source defines the capability consumed by the orchestration
// layer: a named provider of results that can be queried concurrently.
//
// The orchestrator is agnostic to what sits behind a Source — HTTP API,
// scraper, subprocess — it only sees the Querier function and the error
// taxonomy defined here.
package source

import "context"

// Source describes a named, addressable provider of results.
// All reliability state lives in the health registry, not here.
type Source struct {
	Code string // stable short identifier, e.g. "brave", "mojeek"
	Name string // human-readable name
}

// ResultRecord is one result produced by a source. URL is the dedup key.
type ResultRecord struct {
	URL        string            `json:"url"`
	Title      string            `json:"title,omitempty"`
	Snippet    string            `json:"snippet,omitempty"`
	SourceCode string            `json:"source_code"`
	Rank       int               `json:"rank,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`

	// FetchMethod and FetchLatencyMs are filled when the record's URL was
	// retrieved through the tiered fetch chain.
	FetchMethod    string `json:"fetch_method,omitempty"`
	FetchLatencyMs int64  `json:"fetch_latency_ms,omitempty"`
}

// Querier executes a query against one source. Implementations must be
// safe for concurrent use and must honour ctx cancellation.
type Querier func(ctx context.Context, query string, maxResults int) ([]ResultRecord, error)
