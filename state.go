package querycache

import "time"

// Status is the lifecycle stage of a query.
type Status int

const (
	// StatusInitial means no fetch has been attempted yet.
	StatusInitial Status = iota
	// StatusLoading means a fetch is in progress.
	StatusLoading
	// StatusSuccess means the last fetch completed with a value.
	StatusSuccess
	// StatusError means the last fetch failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of a query's value, status, and error at a
// point in time. Data is only meaningful when HasData is true; Err is non-nil
// exactly when Status is StatusError.
type State[T any] struct {
	Data        T
	HasData     bool
	Status      Status
	Err         error
	TimeCreated time.Time
}

// Stale reports whether the snapshot's age exceeds refetchDuration.
// A snapshot without data is always stale.
func (s State[T]) Stale(refetchDuration time.Duration, now time.Time) bool {
	if !s.HasData {
		return true
	}
	return now.Sub(s.TimeCreated) > refetchDuration
}
