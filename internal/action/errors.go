package action

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinels a Client implementation returns so outcomes can be classified
// without string matching.
var (
	// ErrAlreadyParticipant: join requested but the account is already in.
	ErrAlreadyParticipant = errors.New("already a participant")
	// ErrNotParticipant: leave requested but the account was never in.
	ErrNotParticipant = errors.New("not a participant")
	// ErrForbidden: banned, private target, or invalid invite.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized: the session's authorization was revoked.
	ErrUnauthorized = errors.New("session unauthorized")
)

// FloodError carries the server's back-off hint.
type FloodError struct {
	After time.Duration
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("flood wait %s", e.After)
}

// Flood builds a FloodError from whole seconds, the unit the wire uses.
func Flood(seconds int) *FloodError {
	return &FloodError{After: time.Duration(seconds) * time.Second}
}

// Classify maps an action error to a Status plus the rate-limit wait,
// if any.
func Classify(err error) (Status, time.Duration) {
	if err == nil {
		return StatusSuccess, 0
	}
	var fe *FloodError
	switch {
	case errors.Is(err, ErrAlreadyParticipant), errors.Is(err, ErrNotParticipant):
		return StatusAlreadyDone, 0
	case errors.As(err, &fe):
		return StatusRateLimited, fe.After
	case errors.Is(err, ErrForbidden):
		return StatusForbidden, 0
	case errors.Is(err, ErrUnauthorized):
		return StatusSessionInvalid, 0
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusTransient, 0
	default:
		return StatusTransient, 0
	}
}
