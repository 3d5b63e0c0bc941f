package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a source or fetch failure so the health registry
// can update the right counters without string-matching at every call site.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindConnectionFailure ErrorKind = "connection_failure"
	KindRateLimited       ErrorKind = "rate_limited"
	KindBlocked           ErrorKind = "blocked"
	KindParseFailure      ErrorKind = "parse_failure"
	KindCircuitOpen       ErrorKind = "circuit_open"
	KindUnknown           ErrorKind = "unknown"
)

// Error is a classified source failure. The orchestrator converts every
// error crossing a source-call boundary into one of these, so partial
// failure aggregation is a data transformation rather than error handling.
type Error struct {
	Kind   ErrorKind
	Source string // source code, or URL for fetch-chain failures
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("source: %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("source: %s: %s: %v", e.Source, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrCircuitOpen is returned when the breaker rejects a call before attempt.
type ErrCircuitOpen struct {
	Source string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("source: circuit open: %s", e.Source)
}

// Classify maps an arbitrary error to an ErrorKind. Already-classified
// errors keep their kind; otherwise the error chain and message are
// inspected for timeout, rate-limit and connection signatures.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	var co *ErrCircuitOpen
	if errors.As(err, &co) {
		return KindCircuitOpen
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "blocked") || strings.Contains(msg, "captcha") || strings.Contains(msg, "403"):
		return KindBlocked
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "connection reset"):
		return KindConnectionFailure
	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "decode"):
		return KindParseFailure
	}
	return KindUnknown
}
