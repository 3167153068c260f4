package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *Ledger {
	t.Helper()
	l := New(Header{Seq: 5, Hash: "h5", ParentHash: "h4", CloseTime: time.Unix(1700000000, 0).UTC(), TotalCoins: 100})
	require.NoError(t, l.Put("alice", []byte("10")))
	require.NoError(t, l.Put("bob", []byte("20")))
	return l
}

func TestLedger_NewIsMutable(t *testing.T) {
	l := New(Header{Seq: 1})
	assert.False(t, l.IsImmutable())
	assert.Zero(t, l.Len())
	assert.Equal(t, uint32(1), l.Seq())
}

func TestLedger_Clone(t *testing.T) {
	src := sample(t)

	frozen := src.Clone(false)
	assert.True(t, frozen.IsImmutable())
	assert.Equal(t, src.Digest(), frozen.Digest())
	assert.Equal(t, src.Header(), frozen.Header())

	// source storage is not aliased
	require.NoError(t, src.Put("alice", []byte("11")))
	v, ok := frozen.Get("alice")
	require.True(t, ok)
	assert.Equal(t, []byte("10"), v)

	fork := frozen.Clone(true)
	assert.False(t, fork.IsImmutable())
	require.NoError(t, fork.Delete("bob"))
	assert.Equal(t, 2, frozen.Len())
	assert.Equal(t, 1, fork.Len())
}

func TestLedger_ImmutableRejectsMutation(t *testing.T) {
	l := sample(t).Clone(false)
	before := l.Digest()

	assert.ErrorIs(t, l.Put("carol", []byte("1")), ErrImmutable)
	assert.ErrorIs(t, l.Delete("alice"), ErrImmutable)
	assert.ErrorIs(t, l.SetHeader(Header{Seq: 9}), ErrImmutable)
	assert.Equal(t, before, l.Digest())
}

func TestLedger_GetReturnsCopy(t *testing.T) {
	l := sample(t).Clone(false)
	v, ok := l.Get("alice")
	require.True(t, ok)
	v[0] = 'X'

	again, _ := l.Get("alice")
	assert.Equal(t, []byte("10"), again)

	_, ok = l.Get("nobody")
	assert.False(t, ok)
}

func TestLedger_Keys(t *testing.T) {
	l := New(Header{})
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, l.Put(k, nil))
	}
	assert.Equal(t, []string{"a", "b", "c"}, l.Keys())
}

func TestLedger_Digest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *Ledger) error
		same   bool
	}{
		{"no change", func(*Ledger) error { return nil }, true},
		{"value change", func(l *Ledger) error { return l.Put("bob", []byte("21")) }, false},
		{"new key", func(l *Ledger) error { return l.Put("carol", nil) }, false},
		{"removed key", func(l *Ledger) error { return l.Delete("alice") }, false},
		{"header change", func(l *Ledger) error {
			h := l.Header()
			h.Seq++
			return l.SetHeader(h)
		}, false},
		{"field boundaries", func(l *Ledger) error {
			if err := l.Delete("alice"); err != nil {
				return err
			}
			return l.Put("alic", []byte("e10"))
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := sample(t)
			l := base.Clone(true)
			require.NoError(t, tt.mutate(l))
			assert.Equal(t, tt.same, base.Digest() == l.Digest())
		})
	}
}
