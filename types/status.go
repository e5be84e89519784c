// Package types defines the shared entity and value types passed between
// the scheduler, executor, reporter, failure handler, and persistence
// layer.
package types

import "fmt"

// Status is the lifecycle state of a bot, task, or tracker. The numeric
// ordering is significant: a tracker's status is the minimum status of
// any of its bots (Store.RecomputeTrackerStatuses), so CRASHED sorts below
// everything else and ARCHIVED sorts above everything else.
type Status int

const (
	StatusCrashed Status = iota
	StatusInProgress
	StatusWorking
	StatusFailing
	StatusNew
	StatusArchived
)

var statusNames = map[Status]string{
	StatusCrashed:    "crashed",
	StatusInProgress: "inprogress",
	StatusWorking:    "working",
	StatusFailing:    "failing",
	StatusNew:        "new",
	StatusArchived:   "archived",
}

// String returns the lowercase database representation of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus parses a status's database string form.
func ParseStatus(s string) (Status, error) {
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}
