package upload

import "errors"

var (
	// ErrAccessDenied covers both "not yours" and "does not exist" so callers
	// cannot probe for artifact ids.
	ErrAccessDenied = errors.New("access denied")
	ErrNoFile       = errors.New("no file provided")
)
