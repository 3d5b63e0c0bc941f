package sink

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/hazyhaar/moisson/source"
)

// JSONL writes one JSON object per record to an io.Writer (stdout, a file,
// a pipe). Writes are serialised so concurrent batches never interleave
// mid-line.
type JSONL struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONL creates a JSONL sink writing to w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w}
}

func (j *JSONL) Write(ctx context.Context, records []source.ResultRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	enc := json.NewEncoder(j.w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (j *JSONL) Close() error {
	if c, ok := j.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
