//go:build !linux

package secret

// region is the backing store of a Value. Off Linux it lives on the heap and
// is only zeroed on release.
type region struct {
	mem []byte
}

func allocate(n int) region {
	return region{mem: make([]byte, n)}
}

func (r region) free() {
	clear(r.mem)
}
