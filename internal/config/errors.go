package config

import "fmt"

// Error is a fatal configuration problem. The process refuses to start
// when Validate returns one.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}
