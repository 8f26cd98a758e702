//go:build linux

package secret

import "golang.org/x/sys/unix"

// region is the backing store of a Value. mem is the slice returned by mmap,
// kept whole so munmap receives the same mapping.
type region struct {
	mem    []byte
	mapped bool
}

// allocate returns an anonymous private mapping of n bytes, locked into RAM
// and excluded from core dumps. mlock and madvise are best effort: mlockall
// usually covers the mapping already and RLIMIT_MEMLOCK may be small. If the
// mapping itself fails the region falls back to the heap.
func allocate(n int) region {
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return region{mem: make([]byte, n)}
	}
	_ = unix.Mlock(mem)
	_ = unix.Madvise(mem, unix.MADV_DONTDUMP)
	return region{mem: mem, mapped: true}
}

// free zeroes the region, then unlocks and unmaps it.
func (r region) free() {
	if r.mem == nil {
		return
	}
	clear(r.mem)
	if r.mapped {
		_ = unix.Munlock(r.mem)
		_ = unix.Munmap(r.mem)
	}
}
