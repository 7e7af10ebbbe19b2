package store

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("storage unavailable")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Unavailable marks a backend failure. The result matches both
// ErrUnavailable and err.
func Unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// NotFound reports that the named entity does not exist.
func NotFound(kind, id string) error {
	return errors.Wrapf(ErrNotFound, "%s %q", kind, id)
}

// InvalidArgument reports a rejected input.
func InvalidArgument(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
