// Package secret provides a wrapper for values that must not linger in memory
// after use: bearer credentials, resolved usernames and the panic key.
//
// A Value keeps its bytes in a region allocated outside the Go heap. On Linux
// the region is an anonymous mapping that is locked against swap and excluded
// from core dumps, so the garbage collector never copies it. Wipe zeroes,
// unlocks and unmaps the region; callers pair construction with
// `defer v.Wipe()` so every return path scrubs. A runtime cleanup releases the
// region of a Value that becomes unreachable without being wiped.
//
// Strings handed out by String (JSON map keys, header values) are immutable
// heap copies that cannot be scrubbed. Keep such conversions at the outermost
// layer.
package secret

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"runtime"
	"sync"
	"unsafe"
)

// Value is a scrub-on-release container for secret bytes.
// The zero value is an empty secret and is ready to use.
type Value struct {
	mu      sync.RWMutex
	buf     region
	cleanup runtime.Cleanup
	armed   bool
}

// New copies s into a new Value.
func New(s string) *Value {
	b := []byte(s)
	defer clear(b)
	return FromBytes(b)
}

// FromBytes copies b into a new Value and zeroes b, so the caller's slice no
// longer holds the secret.
func FromBytes(b []byte) *Value {
	v := &Value{}
	v.set(b)
	clear(b)
	return v
}

// set replaces the contents with a copy of src. The caller holds v.mu or has
// exclusive access to v.
func (v *Value) set(src []byte) {
	v.release()
	if len(src) == 0 {
		return
	}
	v.buf = allocate(len(src))
	copy(v.buf.mem, src)
	v.cleanup = runtime.AddCleanup(v, region.free, v.buf)
	v.armed = true
}

// release frees the current region. The caller holds v.mu.
func (v *Value) release() {
	if v.armed {
		v.cleanup.Stop()
		v.armed = false
	}
	v.buf.free()
	v.buf = region{}
}

// Clone returns an independent copy with its own region.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	c := &Value{}
	c.set(v.buf.mem)
	return c
}

// Wipe zeroes and releases the region and empties the Value. It is
// idempotent and safe to call concurrently with readers; readers that run
// afterwards observe an empty Value.
func (v *Value) Wipe() {
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.release()
}

// Len reports the number of secret bytes held.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.buf.mem)
}

// IsZero reports whether the Value is nil, empty, or wiped.
func (v *Value) IsZero() bool {
	return v.Len() == 0
}

// String returns the secret as a string. The result is an unscrubbable copy.
func (v *Value) String() string {
	if v == nil {
		return ""
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return string(v.buf.mem)
}

// Equal compares two secrets in constant time with respect to their contents.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v.IsZero() && other.IsZero()
	}
	if v == other {
		return true
	}
	// Lock by address so a.Equal(b) and b.Equal(a) cannot deadlock behind
	// pending writers.
	first, second := v, other
	if uintptr(unsafe.Pointer(second)) < uintptr(unsafe.Pointer(first)) {
		first, second = second, first
	}
	first.mu.RLock()
	defer first.mu.RUnlock()
	second.mu.RLock()
	defer second.mu.RUnlock()
	return subtle.ConstantTimeCompare(v.buf.mem, other.buf.mem) == 1
}

// EqualString compares the secret to s in constant time with respect to the
// contents.
func (v *Value) EqualString(s string) bool {
	if v == nil {
		return s == ""
	}
	b := []byte(s)
	defer clear(b)
	v.mu.RLock()
	defer v.mu.RUnlock()
	return subtle.ConstantTimeCompare(v.buf.mem, b) == 1
}

// Use calls fn with the secret bytes while holding the read lock. fn must not
// retain b: the region is unmapped on Wipe.
func (v *Value) Use(fn func(b []byte)) {
	if v == nil {
		fn(nil)
		return
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	fn(v.buf.mem)
}

// MarshalJSON encodes the secret as a plain JSON string.
func (v *Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a JSON string into the Value, replacing and wiping any
// previous contents.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b := []byte(s)
	defer clear(b)
	v.replace(b)
	return nil
}

// MarshalText encodes the secret as plain text.
func (v *Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText replaces the Value with a copy of text.
func (v *Value) UnmarshalText(text []byte) error {
	v.replace(text)
	return nil
}

func (v *Value) replace(b []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.set(b)
}

// LogValue keeps secrets out of structured logs.
func (v *Value) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}
