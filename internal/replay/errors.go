package replay

import "errors"

// Error categories. Callers test with errors.Is; the concrete cause is wrapped beneath.
var (
	// ErrConfig is a pre-flight configuration problem; no episode has been touched.
	ErrConfig = errors.New("configuration error")
	// ErrResource means the dataset, video sink or simulator could not be opened.
	ErrResource = errors.New("resource error")
	// ErrRestore is a malformed restoration request or a simulator failure while restoring.
	ErrRestore = errors.New("restore error")

	ErrEmptyRestore = errors.New("restore request has neither model nor state")
)
