package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPriceUnavailable means no anchor price could be resolved for the
	// candidate; the caller may retry on the next scan cycle.
	ErrPriceUnavailable = errors.New("anchor price unavailable")

	// ErrAlreadyActive means another writer created an ACTIVE recommendation
	// for the same ticker first. Benign race: success without creation.
	ErrAlreadyActive = errors.New("active recommendation already exists for ticker")

	// ErrNotFound means the recommendation id does not exist.
	ErrNotFound = errors.New("recommendation not found")
)

// CooldownError rejects creation because the ticker broke too recently.
// Expected during normal operation, not an error condition for monitoring.
type CooldownError struct {
	Ticker        string
	RemainingDays int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("ticker %s in cooldown: %d trading days remaining", e.Ticker, e.RemainingDays)
}

// InvalidTransitionError rejects an edge the transition graph forbids.
// Caller error: retrying will never succeed.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s is not allowed", e.From, e.To)
}
