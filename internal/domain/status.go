package domain

// Status is the lifecycle state of a job.
type Status string

// Job status constants
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// transitions lists, for each target state, the states it may be entered from.
var transitions = map[Status][]Status{
	// PENDING -> FAILED covers pre-flight rejection before the claim.
	StatusPending:    {StatusFailed},
	StatusInProgress: {StatusPending},
	StatusSuccess:    {StatusInProgress},
	StatusFailed:     {StatusPending, StatusInProgress},
}

// IsTerminal reports whether no worker may act on the job any more.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal write.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses that may legally move to `to`.
func AllowedFrom(to Status) []Status {
	return append([]Status(nil), transitions[to]...)
}
