package db

import "errors"

// ErrNotFound is returned when a requested call or person does not exist.
var ErrNotFound = errors.New("not found")
