package domain

import "fmt"

// Status is the single mutable field that drives all downstream behavior
// of a recommendation.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusWeakWarning Status = "WEAK_WARNING"
	StatusBroken      Status = "BROKEN"
	StatusArchived    Status = "ARCHIVED"
	StatusReplaced    Status = "REPLACED"
)

func (s Status) String() string { return string(s) }

// ParseStatus converts a raw string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusWeakWarning, StatusBroken, StatusArchived, StatusReplaced:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status: %q", s)
	}
}

// IsTerminal reports whether the status can never return to a live state.
// BROKEN is terminal in this sense even though it still moves to ARCHIVED.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusBroken, StatusArchived, StatusReplaced:
		return true
	}
	return false
}

// IsLive reports whether a recommendation in this status is still being
// evaluated against current prices.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusWeakWarning
}

// AllowedTransitions defines the directed transition graph. Key is the
// current status, value the set of statuses it may move to.
//
// WEAK_WARNING is the only non-ACTIVE state that can recover to ACTIVE:
// a soft warning is a caution, not a hard failure. BROKEN never recovers;
// a new recommendation must be created instead, subject to cooldown.
var AllowedTransitions = map[Status][]Status{
	StatusActive: {
		StatusWeakWarning,
		StatusBroken,
		StatusArchived,
		StatusReplaced,
	},
	StatusWeakWarning: {
		StatusActive,
		StatusBroken,
		StatusArchived,
		StatusReplaced,
	},
	StatusBroken: {
		StatusArchived,
	},
	StatusArchived: {},
	StatusReplaced: {},
}

// IsAllowed reports whether the edge from -> to exists in the transition
// graph. Requesting the current status again is always allowed; callers
// treat it as an idempotent no-op that produces no state event.
func IsAllowed(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
