package store

import "errors"

// ErrEmptyKey is returned when inserting under an empty or wiped identity.
var ErrEmptyKey = errors.New("store: empty key")
