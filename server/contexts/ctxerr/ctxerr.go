// Package ctxerr provides functions to create and wrap errors with
// annotations as close as possible to where the error condition is
// encountered. Errors wrapped by this package keep their cause available via
// Cause and the standard errors.Is/As chain.
package ctxerr

import (
	"context"

	"github.com/pkg/errors"
)

// New creates a new error with the provided error message.
func New(ctx context.Context, errMsg string) error {
	return errors.New(errMsg)
}

// Errorf creates a new error with the provided formatted message.
func Errorf(ctx context.Context, fmsg string, args ...interface{}) error {
	return errors.Errorf(fmsg, args...)
}

// Wrap annotates err with the provided message. Returns nil if err is nil.
func Wrap(ctx context.Context, err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf annotates err with the provided formatted message. Returns nil if
// err is nil.
func Wrapf(ctx context.Context, err error, fmsg string, args ...interface{}) error {
	return errors.Wrapf(err, fmsg, args...)
}

// Cause returns the root cause of err.
func Cause(err error) error {
	return errors.Cause(err)
}
