// Package errs defines the error kinds surfaced by the sync engine.
package errs

import (
	"errors"
	"fmt"
)

// Kinds. Callers classify with errors.Is.
var (
	ErrAuth       = errors.New("authentication failed")
	ErrNetwork    = errors.New("network failure")
	ErrValidation = errors.New("validation failed")
	ErrProtocol   = errors.New("protocol error")
)

var (
	ErrNotConnected   = fmt.Errorf("%w: not connected", ErrNetwork)
	ErrBlankMessage   = fmt.Errorf("%w: message is blank", ErrValidation)
	ErrReadOnlyChat   = fmt.Errorf("%w: chat is read-only", ErrValidation)
	ErrNoChatSelected = fmt.Errorf("%w: no chat selected", ErrValidation)
	ErrUnknownChat    = fmt.Errorf("%w: unknown chat", ErrValidation)
	ErrUnknownMessage = fmt.Errorf("%w: unknown message", ErrValidation)
)

// Protocol wraps a malformed payload error for the named event.
func Protocol(event string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProtocol, event, err)
}
