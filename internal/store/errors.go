package store

import "errors"

// Store lifecycle errors.
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrWriteTimeout = errors.New("write operation timeout")
)
