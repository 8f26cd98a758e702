// Package memlock pins the process address space in RAM so identities and
// credentials held in memory are never written to swap.
package memlock

import "errors"

// ErrUnsupported is returned on platforms without mlockall(2).
var ErrUnsupported = errors.New("memlock: locking the address space is not supported on this platform")

// Hint is appended to lock failures to point operators at the usual cause.
const Hint = "have the system limits (RLIMIT_MEMLOCK / LimitMEMLOCK) been raised to allow locking the entire address space?"
