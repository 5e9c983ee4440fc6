package hiscores

import (
	"errors"
	"fmt"
)

// ErrPlayerNotFound is returned when the upstream source answers 404 for
// a username: the player does not exist upstream. Never retried.
var ErrPlayerNotFound = errors.New("hiscores: player not found")

// FetchError reports a fetch that failed after exhausting its retry budget.
type FetchError struct {
	Username string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("hiscores: fetch for %q failed after %d attempts: %v", e.Username, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a malformed upstream payload. Never retried.
type ParseError struct {
	Username string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hiscores: invalid payload for %q: %s: %v", e.Username, e.Reason, e.Err)
	}
	return fmt.Sprintf("hiscores: invalid payload for %q: %s", e.Username, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }
