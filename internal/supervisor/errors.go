package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn is returned when the gateway binary could not be started.
	ErrSpawn = errors.New("gateway spawn failed")

	// ErrUnexpectedExit is returned by a pending connect whose gateway
	// exited before logging in.
	ErrUnexpectedExit = errors.New("gateway exited before login completed")

	// ErrNoProcess is returned when an account has no live gateway.
	ErrNoProcess = errors.New("no live gateway process")

	// ErrUnknownAccount is returned for session ids the supervisor does not
	// know.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrProcessRunning is returned by operations that need the gateway to
	// be stopped.
	ErrProcessRunning = errors.New("gateway process is running")
)

// ExitError reports a gateway that exited while a connect was pending.
type ExitError struct {
	SID string
	// Err is the process exit error, nil for a clean exit.
	Err error
	// Message is the diagnostic published with the final state.
	Message string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("gateway %s exited before login completed", e.SID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnexpectedExit) hold for every ExitError.
func (e *ExitError) Is(target error) bool {
	return target == ErrUnexpectedExit
}
