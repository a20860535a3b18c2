package meeting

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingFields means the name, date or time was empty.
	ErrMissingFields = errors.New("meeting: name, date and time are required")

	// ErrInvalidSchedule means the date and time could not be parsed.
	ErrInvalidSchedule = errors.New("meeting: invalid date or time")
)

// RedirectRequiredError is returned when the calendar credential is missing
// or unusable. The caller stores State in the session and sends the user to
// URL; the meeting must be submitted again after consent.
type RedirectRequiredError struct {
	URL   string
	State string
}

func (e *RedirectRequiredError) Error() string {
	return "meeting: calendar authorization required"
}

// StageError reports which workflow stage a create-meeting attempt failed in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("meeting: %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage err failed in, or StateIdle when err is not
// a *StageError.
func FailedStage(err error) State {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return StateIdle
}
