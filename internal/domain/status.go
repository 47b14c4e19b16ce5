package domain

import "fmt"

// Status is the closed set of task lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusScheduled  Status = "scheduled"
	StatusCompleted  Status = "completed"
	StatusNeedInput  Status = "need-input"
)

// Statuses lists every status in display order.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusScheduled, StatusCompleted, StatusNeedInput}
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusScheduled, StatusCompleted, StatusNeedInput},
	StatusInProgress: {StatusCompleted, StatusNeedInput, StatusPending},
	StatusScheduled:  {StatusPending, StatusInProgress, StatusCompleted},
	StatusNeedInput:  {StatusInProgress, StatusPending},
	StatusCompleted:  {StatusPending},
}

// NextStatuses returns the states reachable from s.
func NextStatuses(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

// CanTransition reports whether from -> to is allowed. Staying put is always allowed.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a status change is not in the table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition %s -> %s", e.From, e.To)
}

// EnsureTransition returns an InvalidTransitionError unless the move is allowed or forced.
func EnsureTransition(from, to Status, force bool) error {
	if force && to.Valid() {
		return nil
	}
	if !CanTransition(from, to) {
		return InvalidTransitionError{From: from, To: to}
	}
	return nil
}
