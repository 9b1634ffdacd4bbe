package domain

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound          = errors.New("file not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrTemporary             = errors.New("temporary failure")
	ErrStateConflict         = errors.New("processing state conflict")
	ErrContentUnavailable    = errors.New("content unavailable")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrCircuitOpen           = errors.New("circuit open")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
