package queue

import (
	"errors"
	"fmt"
)

// PanicError wraps a panic recovered during handler execution. It is
// treated as a permanent failure: a panic indicates a programming error in
// the handler, not a transient condition worth retrying.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic reports whether err wraps a recovered panic.
func IsPanic(err error) bool {
	var p PanicError
	return errors.As(err, &p)
}
