package hashstore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_Sum(t *testing.T) {
	key := []byte{10, 0, 0, 5}
	tests := []struct {
		name  string
		width Width
		want  uint32
	}{
		{"bytes", Width8, 15},
		{"16 bit words", Width16, 2565},
		{"32 bit words", Width32, 168099840},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum{Width: tt.width}.Sum(key))
		})
	}
}

func TestWidthFor(t *testing.T) {
	assert.Equal(t, Width8, WidthFor(256))
	assert.Equal(t, Width16, WidthFor(257))
	assert.Equal(t, Width16, WidthFor(65536))
	assert.Equal(t, Width32, WidthFor(65537))
}

func TestStore_InsertFind(t *testing.T) {
	t.Run("finds inserted keys per kind", func(t *testing.T) {
		// Prepare
		s := New(0)
		require.Equal(t, DefaultSize, s.Size())

		// Execute
		e, err := s.Insert(1, []byte{1, 2, 3, 4})
		require.NoError(t, err)
		e.Sub = []byte{4, 3, 2, 1}

		// Check
		assert.Same(t, e, s.Find(1, []byte{1, 2, 3, 4}))
		assert.Nil(t, s.Find(2, []byte{1, 2, 3, 4}), "kinds are separate namespaces")
		assert.Nil(t, s.Find(1, []byte{1, 2, 3}), "length is part of the key")
		assert.Equal(t, NoRef, e.Ref)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("copies the key", func(t *testing.T) {
		s := New(16)
		key := []byte{9, 9}
		_, err := s.Insert(1, key)
		require.NoError(t, err)
		key[0] = 0
		assert.NotNil(t, s.Find(1, []byte{9, 9}))
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		s := New(16)
		_, err := s.Insert(1, []byte{7})
		require.NoError(t, err)

		_, err = s.Insert(1, []byte{7})
		assert.True(t, errors.Is(err, ErrDuplicateKey))
		assert.Equal(t, 1, s.Len())
	})
}

func TestStore_Chaining(t *testing.T) {
	// a single bucket forces every key into one ring
	s := NewWithHasher(1, Checksum{Width: Width8})
	var entries []*Entry
	for i := 0; i < 10; i++ {
		e, err := s.Insert(1, []byte{byte(i)})
		require.NoError(t, err)
		entries = append(entries, e)
	}
	assert.Equal(t, 10, s.chainLength([]byte{0}))
	for i, e := range entries {
		assert.Same(t, e, s.Find(1, []byte{byte(i)}))
	}

	// remove the head, a middle entry and the tail
	s.Remove(entries[9])
	s.Remove(entries[4])
	s.Remove(entries[0])
	s.Remove(entries[0])
	assert.Equal(t, 7, s.Len())
	assert.Equal(t, 7, s.chainLength([]byte{0}))
	assert.Nil(t, s.Find(1, []byte{4}))
	assert.NotNil(t, s.Find(1, []byte{5}))

	for _, i := range []int{1, 2, 3, 5, 6, 7, 8} {
		s.Remove(entries[i])
	}
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.chainLength([]byte{0}))
	assert.Nil(t, s.Find(1, []byte{1}))
}

func TestStore_Walk(t *testing.T) {
	s := New(4)
	for i := 0; i < 20; i++ {
		_, err := s.Insert(Kind(i%2), []byte{byte(i), byte(i * 3)})
		require.NoError(t, err)
	}

	seen := 0
	s.Walk(func(e *Entry) bool {
		seen++
		return true
	})
	assert.Equal(t, 20, seen)

	seen = 0
	s.Walk(func(e *Entry) bool {
		seen++
		return seen < 5
	})
	assert.Equal(t, 5, seen)
}

func BenchmarkStore_Find(b *testing.B) {
	s := New(DefaultSize)
	for i := 0; i < 4096; i++ {
		s.Insert(1, []byte{10, byte(i >> 8), byte(i), 1})
	}
	key := []byte{10, 8, 0, 1}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		s.Find(1, key)
	}
}
