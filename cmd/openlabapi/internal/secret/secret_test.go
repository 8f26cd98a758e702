package secret

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CopiesInput(t *testing.T) {
	v := New("ghost")
	defer v.Wipe()

	assert.Equal(t, "ghost", v.String())
	assert.Equal(t, 5, v.Len())
	assert.False(t, v.IsZero())
}

func TestFromBytes_ZeroesSource(t *testing.T) {
	buf := []byte("hunter2")
	v := FromBytes(buf)
	defer v.Wipe()

	assert.Equal(t, make([]byte, 7), buf, "source must be zeroed")
	assert.Equal(t, "hunter2", v.String())
}

func TestWipe_ReleasesRegion(t *testing.T) {
	v := New("hunter2")

	v.Wipe()

	assert.Nil(t, v.buf.mem)
	assert.False(t, v.armed)
	assert.True(t, v.IsZero())
	assert.Equal(t, "", v.String())

	// idempotent
	v.Wipe()
	assert.True(t, v.IsZero())
}

func TestWipe_NilValue(t *testing.T) {
	var v *Value
	assert.NotPanics(t, v.Wipe)
	assert.True(t, v.IsZero())
	assert.Equal(t, "", v.String())
}

func TestClone_IsIndependent(t *testing.T) {
	orig := New("alice")
	clone := orig.Clone()

	orig.Wipe()

	assert.Equal(t, "alice", clone.String())
	assert.True(t, orig.IsZero())
	clone.Wipe()
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name  string
		a, b  *Value
		equal bool
	}{
		{name: "same contents", a: New("k"), b: New("k"), equal: true},
		{name: "different contents", a: New("k"), b: New("K"), equal: false},
		{name: "different lengths", a: New("key"), b: New("ke"), equal: false},
		{name: "both nil", a: nil, b: nil, equal: true},
		{name: "nil and empty", a: nil, b: New(""), equal: true},
		{name: "nil and set", a: nil, b: New("x"), equal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
			assert.Equal(t, tt.equal, tt.b.Equal(tt.a))
		})
	}
}

func TestEqualString(t *testing.T) {
	v := New("s3cr3t")
	assert.True(t, v.EqualString("s3cr3t"))
	assert.False(t, v.EqualString("s3cr3"))
	assert.False(t, v.EqualString(""))
}

func TestJSONRoundTripIsTransparent(t *testing.T) {
	type payload struct {
		Nickname *Value `json:"nickname"`
	}

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"nickname":"ghost"}`), &p))
	require.NotNil(t, p.Nickname)
	assert.Equal(t, "ghost", p.Nickname.String())

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nickname":"ghost"}`, string(out))
}

func TestUnmarshalText_ReplacesPrevious(t *testing.T) {
	v := New("old")
	defer v.Wipe()
	text := []byte("new")

	require.NoError(t, v.UnmarshalText(text))

	assert.Equal(t, "new", v.String())
	assert.Equal(t, []byte("new"), text, "caller's text is left alone")

	require.NoError(t, v.UnmarshalText(nil))
	assert.True(t, v.IsZero())
}

func TestLogValue_Redacts(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	logger.Info("resolved", "user", New("ghost"))

	assert.Contains(t, out.String(), "user=[redacted]")
	assert.NotContains(t, out.String(), "ghost")
}

func TestUse_SeesBytesUnderLock(t *testing.T) {
	v := New("abc")
	var seen string
	v.Use(func(b []byte) { seen = string(b) })
	assert.Equal(t, "abc", seen)
}

func TestConcurrentWipeAndRead(t *testing.T) {
	v := New("concurrent")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := v.String()
			if s != "" && s != "concurrent" {
				t.Errorf("observed torn value %q", s)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		v.Wipe()
	}()
	wg.Wait()

	assert.True(t, v.IsZero())
}

func TestEqual_OppositeOrderWithWriters(t *testing.T) {
	a, b := New("same"), New("same")

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(4)
			go func() { defer wg.Done(); a.Equal(b) }()
			go func() { defer wg.Done(); b.Equal(a) }()
			go func() { defer wg.Done(); _ = a.UnmarshalText([]byte("same")) }()
			go func() { defer wg.Done(); _ = b.UnmarshalText([]byte("same")) }()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Equal deadlocked")
	}
	assert.True(t, a.Equal(b))
}
