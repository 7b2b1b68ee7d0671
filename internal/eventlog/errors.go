package eventlog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAlreadyInitialized is returned by Recorder.Init on a context that already has a session.
	ErrAlreadyInitialized = errors.New("event logger already initialized for this context")
	// ErrNotInitialized is returned when waiting on a recorder that has no session.
	ErrNotInitialized = errors.New("event logger not initialized")
	// ErrWaitInProgress is returned when a second wait is started while one is pending.
	ErrWaitInProgress = errors.New("a wait for events is already in progress")
)

// DeadlineExceededError reports that the session did not go idle within MaxWait.
type DeadlineExceededError struct {
	Outstanding []int64
	MaxWait     time.Duration
}

func (e *DeadlineExceededError) Error() string {
	ids := make([]string, len(e.Outstanding))
	for i, id := range e.Outstanding {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("max wait time of %dms exceeded, outstanding=[%s]",
		e.MaxWait.Milliseconds(), strings.Join(ids, ","))
}

// AssertionError reports visible alert elements found by the alert check.
type AssertionError struct {
	Texts []string
}

func (e *AssertionError) Error() string {
	return strings.Join(e.Texts, ", ")
}
