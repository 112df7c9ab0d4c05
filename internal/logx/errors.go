package logx

import "fmt"

// NewError and WrapError mirror the teacher's kernel/utils error helpers:
// thin wrappers over fmt.Errorf rather than a custom error type hierarchy,
// matching the error taxonomy of spec.md §7 (classes, not specific types).
func NewError(msg string) error {
	return fmt.Errorf("%s", msg)
}

func WrapError(err error, msg string) error {
	if err == nil {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
