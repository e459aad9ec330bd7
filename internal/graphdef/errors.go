package graphdef

import "errors"

// Common errors.
var (
	ErrMalformed       = errors.New("malformed graph data")
	ErrUnsupportedType = errors.New("unsupported data type")
)
