package common

import "errors"

// ErrNotFound is returned when a requested item (e.g., cache key, database record) is not found.
var ErrNotFound = errors.New("linkcheck: requested item not found")

// ErrBackendClosed is returned by a cache driver used after Close.
var ErrBackendClosed = errors.New("linkcheck: backend closed")
