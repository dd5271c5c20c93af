package model

// SignalStatus is the lifecycle state of a signal:
//
//	processing -> accepted | rejected
//	accepted   -> executing
//	executing  -> completed | failed
//	any non-terminal -> error
//
// Transitions are monotonic. A status update that is not strictly ahead of
// the stored status is stale and must be discarded, which keeps the store
// consistent when frames arrive out of order across reconnects.
type SignalStatus string

const (
	StatusProcessing SignalStatus = "processing"
	StatusAccepted   SignalStatus = "accepted"
	StatusRejected   SignalStatus = "rejected"
	StatusExecuting  SignalStatus = "executing"
	StatusCompleted  SignalStatus = "completed"
	StatusFailed     SignalStatus = "failed"
	StatusError      SignalStatus = "error"
)

// statusRank orders statuses along the lifecycle. Statuses that branch from
// the same state share a rank, so a stale sibling can never overwrite.
var statusRank = map[SignalStatus]int{
	StatusProcessing: 0,
	StatusAccepted:   1,
	StatusRejected:   1,
	StatusExecuting:  2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusError:      3,
}

// Valid reports whether s is a known status.
func (s SignalStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the monotonic ordering position of s.
// Unknown statuses rank below processing so they never advance anything.
func (s SignalStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether s accepts no further transitions.
func (s SignalStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed, StatusError:
		return true
	}
	return false
}

// CanAdvanceTo reports whether a stored status s may be replaced by next.
// Skipping intermediate states is allowed (the delta for the skipped state
// may simply have been lost across a reconnect), moving backwards is not.
func (s SignalStatus) CanAdvanceTo(next SignalStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.Rank() > s.Rank()
}
