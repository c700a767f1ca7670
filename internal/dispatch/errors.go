package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the dispatch service layer.
var (
	ErrNotFound     = errors.New("message not found")
	ErrNoConnection = errors.New("no provider connection for account")
)

// ValidationError reports a rejected send request. The request was never
// dispatched and nothing was persisted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}
