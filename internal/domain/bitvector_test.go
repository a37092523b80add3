package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeBitVectorSetGet(t *testing.T) {
	v := NewOutcomeBitVector(10)
	assert.Equal(t, 10, v.Len())
	assert.Len(t, v.Bytes(), 2)

	v.Set(0, true)
	v.Set(7, true)
	v.Set(8, true)
	v.Set(9, false)

	assert.True(t, v.Get(0))
	assert.False(t, v.Get(1))
	assert.True(t, v.Get(7))
	assert.True(t, v.Get(8))
	assert.False(t, v.Get(9))

	// LSB-first within each byte.
	assert.Equal(t, []byte{0b1000_0001, 0b0000_0001}, v.Bytes())

	v.Set(7, false)
	assert.False(t, v.Get(7))
	assert.Equal(t, []byte{0b0000_0001, 0b0000_0001}, v.Bytes())
}

func TestOutcomeBitVectorOutOfRange(t *testing.T) {
	v := NewOutcomeBitVector(3)
	v.Set(-1, true)
	v.Set(3, true)
	assert.False(t, v.Get(-1))
	assert.False(t, v.Get(3))
	assert.Equal(t, []byte{0}, v.Bytes())
}

func TestOutcomeBitVectorRoundTrip(t *testing.T) {
	v := NewOutcomeBitVector(12)
	for _, i := range []int{1, 4, 9, 11} {
		v.Set(i, true)
	}
	got := OutcomeBitVectorFromBytes(v.Bytes(), 12)
	for i := 0; i < 12; i++ {
		assert.Equal(t, v.Get(i), got.Get(i), "bit %d", i)
	}

	short := OutcomeBitVectorFromBytes(nil, 4)
	for i := 0; i < 4; i++ {
		assert.False(t, short.Get(i))
	}
}
