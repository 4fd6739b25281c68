// internal/messaging/errors.go

package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected        = errors.New("websocket is not connected")
	ErrNoIdentity          = errors.New("no signed-in identity")
	ErrNoConversation      = errors.New("no conversation is open")
	ErrPendingConversation = errors.New("conversation has not been created on the server yet")
	ErrViewSuperseded      = errors.New("conversation view changed before the response arrived")
	ErrMissingToken        = errors.New("no bearer token available")
)

// RequestError is a failed REST call. Error() is meant to be shown to a user.
type RequestError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error { return e.Err }

// HandlerError wraps a panic recovered from a subscriber.
type HandlerError struct {
	Topic string
	Value interface{}
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler panicked: %v", e.Topic, e.Value)
}
