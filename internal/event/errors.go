package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/gantryio/gantry/internal/event/topic"
)

// Sentinel errors for the event bus.
var (
	// ErrInvalidTopic is returned when a topic is empty or malformed.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrInvalidSubscription is returned when a nil subscription is provided.
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrTimeout is returned when a request deadline elapses before a
	// matching response arrives.
	ErrTimeout = errors.New("request timed out")

	// ErrCoordinatorClosed is returned for requests issued after Close.
	ErrCoordinatorClosed = errors.New("coordinator is closed")
)

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	// Topic is the logical request topic that timed out.
	Topic topic.Topic

	// Timeout is the deadline that elapsed.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request on %q timed out after %s", e.Topic, e.Timeout)
}

// Is allows errors.Is to match TimeoutError with ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
