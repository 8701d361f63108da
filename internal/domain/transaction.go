package domain

import "time"

// Cancellation reasons recorded on a transaction.
const (
	CancelFetchFailed = "fetch_failed"
	CancelTimeout     = "timeout"
	CancelRouteMatch  = "route_match"

	// CancelMiddlewarePrefix is completed with the key of the middleware
	// that cancelled the request.
	CancelMiddlewarePrefix = "middleware_cancelled:"
)

// Transaction is the per-request telemetry record. It is created on entry,
// stamped as the request walks the state machine and finalized on exit; every
// request delivers exactly one of these to the post-transaction sink.
//
// Timestamps are UTC, durations in milliseconds. Fields of phases that did
// not execute stay absent on the wire.
type Transaction struct {
	ID       string    `json:"id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitzero"`
	Duration int64     `json:"duration"`

	ClientIP     string `json:"client_ip,omitempty"`
	Method       string `json:"method"`
	URL          string `json:"url"`
	UserAgent    string `json:"user_agent,omitempty"`
	RequestBytes int64  `json:"request_bytes"`

	ResolvingStart    time.Time `json:"resolving_start,omitzero"`
	ResolvingEnd      time.Time `json:"resolving_end,omitzero"`
	ResolvingDuration int64     `json:"resolving_duration,omitempty"`

	PreprocessingStart    time.Time `json:"preprocessing_start,omitzero"`
	PreprocessingEnd      time.Time `json:"preprocessing_end,omitzero"`
	PreprocessingDuration int64     `json:"preprocessing_duration,omitempty"`

	PostprocessingStart    time.Time `json:"postprocessing_start,omitzero"`
	PostprocessingEnd      time.Time `json:"postprocessing_end,omitzero"`
	PostprocessingDuration int64     `json:"postprocessing_duration,omitempty"`

	TargetType            string    `json:"target_type,omitempty"`
	TargetRequestStart    time.Time `json:"target_request_start,omitzero"`
	TargetRequestEnd      time.Time `json:"target_request_end,omitzero"`
	TargetRequestDuration int64     `json:"target_request_duration,omitempty"`

	Cancelled          bool   `json:"cancelled"`
	CancellationReason string `json:"cancellation_reason,omitempty"`

	Cache string `json:"cache,omitempty"`

	Status        int    `json:"status,omitempty"`
	StatusText    string `json:"status_text,omitempty"`
	ResponseBytes int64  `json:"response_bytes"`

	TotalOverhead int64   `json:"total_overhead"`
	OverheadPct   float64 `json:"overhead_pct"`
}

// Cancel marks the transaction cancelled with the given reason. The first
// reason wins; later calls are ignored so terminal states cannot overwrite
// the cause recorded deeper in the chain.
func (t *Transaction) Cancel(reason string) {
	if t.Cancelled {
		return
	}
	t.Cancelled = true
	t.CancellationReason = reason
}

// Finalize stamps the end of the transaction and derives duration, overhead
// and overhead percentage. Negative values from clock skew clamp to zero.
func (t *Transaction) Finalize(now time.Time) {
	t.End = now.UTC()
	t.Duration = clampMs(t.Start, t.End)
	t.TotalOverhead = t.Duration - t.TargetRequestDuration
	if t.TotalOverhead < 0 {
		t.TotalOverhead = 0
	}
	if t.Duration > 0 {
		t.OverheadPct = float64(t.TotalOverhead) / float64(t.Duration) * 100
	}
}

func clampMs(from, to time.Time) int64 {
	d := to.Sub(from).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// DurationMs returns the non-negative millisecond distance between two
// timestamps, zero when either is unset.
func DurationMs(from, to time.Time) int64 {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return clampMs(from, to)
}
