package artifact

import (
	"errors"
	"fmt"
)

// Validation rejections. Never retried.
var (
	ErrUnsupportedType = errors.New("unsupported-type")
	ErrTooLarge        = errors.New("too-large")
	ErrCorruptContent  = errors.New("corrupt-content")
)

var (
	ErrNotFound        = errors.New("artifact not found")
	ErrVariantNotFound = errors.New("variant not found")
	ErrUnknownCategory = errors.New("unknown category")
)

// RejectReason returns the wire code of a validation rejection, or "" if err is not one.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return ErrUnsupportedType.Error()
	case errors.Is(err, ErrTooLarge):
		return ErrTooLarge.Error()
	case errors.Is(err, ErrCorruptContent):
		return ErrCorruptContent.Error()
	}
	return ""
}

// StorageError wraps any failure that happened after validation succeeded.
// The upload is treated as if it never happened.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
