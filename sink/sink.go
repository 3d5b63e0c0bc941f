// Package sink defines where merged results are delivered. The
// orchestration layer treats sinks as fire-and-forget: a failing sink is
// logged, never retried, and never aborts a job — durability is the
// sink's own responsibility.
package sink

import (
	"context"

	"github.com/hazyhaar/moisson/source"
)

// Sink accepts batches of result records for durable storage or export.
type Sink interface {
	Write(ctx context.Context, records []source.ResultRecord) error
	Close() error
}
