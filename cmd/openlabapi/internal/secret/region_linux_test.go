//go:build linux

package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_MapsOutsideHeap(t *testing.T) {
	v := New("ghost")
	defer v.Wipe()

	assert.True(t, v.buf.mapped, "secret should live in an anonymous mapping")
	assert.Equal(t, "ghost", v.String())

	clone := v.Clone()
	defer clone.Wipe()
	assert.True(t, clone.buf.mapped)
	assert.NotSame(t, &v.buf.mem[0], &clone.buf.mem[0])
}
