package domain

// OutcomeBitVector is a compact encoding of per-item boolean outcomes for
// batch operations. Bit i of the vector is stored in byte i/8 at position
// i%8, least significant bit first.
type OutcomeBitVector struct {
	bits []byte
	n    int
}

// NewOutcomeBitVector allocates a vector of n outcomes, all false.
func NewOutcomeBitVector(n int) *OutcomeBitVector {
	return &OutcomeBitVector{
		bits: make([]byte, (n+7)/8),
		n:    n,
	}
}

// Len returns the number of outcomes in the vector.
func (v *OutcomeBitVector) Len() int { return v.n }

// Set assigns the outcome at index i. Out-of-range indexes are ignored.
func (v *OutcomeBitVector) Set(i int, val bool) {
	if i < 0 || i >= v.n {
		return
	}
	if val {
		v.bits[i/8] |= 1 << (i % 8)
	} else {
		v.bits[i/8] &^= 1 << (i % 8)
	}
}

// Get returns the outcome at index i; false when out of range.
func (v *OutcomeBitVector) Get(i int) bool {
	if i < 0 || i >= v.n {
		return false
	}
	return v.bits[i/8]&(1<<(i%8)) != 0
}

// Bytes returns the underlying byte encoding. The caller must not mutate it.
func (v *OutcomeBitVector) Bytes() []byte { return v.bits }

// OutcomeBitVectorFromBytes reconstructs a vector of n outcomes from its
// byte encoding. Missing trailing bytes read as false.
func OutcomeBitVectorFromBytes(data []byte, n int) *OutcomeBitVector {
	v := NewOutcomeBitVector(n)
	copy(v.bits, data)
	return v
}
