package orchestrate

import (
	"github.com/hazyhaar/moisson/source"
)

// MergeStrategy controls how per-source result streams are combined.
type MergeStrategy string

const (
	// MergeAppend keeps per-source lists separate, no cross-source dedup.
	MergeAppend MergeStrategy = "append"
	// MergeDedup pushes every result through the shared buffer, first-seen
	// wins.
	MergeDedup MergeStrategy = "dedup"
	// MergeRanked dedups and additionally accumulates the set of sources
	// that produced each URL, for downstream scoring.
	MergeRanked MergeStrategy = "ranked"
)

// Binding pairs a source descriptor with the function that queries it.
type Binding struct {
	Source  source.Source
	Querier source.Querier
}

// Request describes one fan-out search.
type Request struct {
	Sources             []Binding
	Query               string
	MaxResultsPerSource int
	Merge               MergeStrategy
}

// SourceStatus is the terminal state of one source within a job.
type SourceStatus string

const (
	StatusOK          SourceStatus = "ok"
	StatusFailed      SourceStatus = "failed"
	StatusCircuitOpen SourceStatus = "circuit_open"
	StatusTimeout     SourceStatus = "timeout"
	StatusSkipped     SourceStatus = "skipped" // already completed in a resumed job
)

// SourceOutcome reports what happened to one source, so callers can tell
// "no results found" apart from "source failed".
type SourceOutcome struct {
	Status      SourceStatus     `json:"status"`
	ResultCount int              `json:"result_count"`
	ErrorKind   source.ErrorKind `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Report is the outcome of a whole job: best-effort merged results plus a
// per-source outcome map, returned even if every source failed.
type Report struct {
	Results   []source.ResultRecord            `json:"results"`
	BySource  map[string][]source.ResultRecord `json:"by_source,omitempty"` // MergeAppend only
	PerSource map[string]SourceOutcome         `json:"per_source"`
	// RankedSources maps URL to the codes of every source that returned
	// it. MergeRanked only.
	RankedSources map[string][]string `json:"ranked_sources,omitempty"`
	UniqueCount   int                 `json:"unique_count"`
}
