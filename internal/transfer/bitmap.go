package transfer

// Bitmap is a compact bitset for tracking chunk presence.
type Bitmap struct {
	bits int
	set  int
	data []byte
}

// NewBitmap allocates a bitmap sized for the given number of bits.
func NewBitmap(bits int) *Bitmap {
	if bits < 0 {
		bits = 0
	}
	byteLen := (bits + 7) / 8
	return &Bitmap{
		bits: bits,
		data: make([]byte, byteLen),
	}
}

// LenBits returns the number of bits in the bitmap.
func (b *Bitmap) LenBits() int {
	if b == nil {
		return 0
	}
	return b.bits
}

// Set marks the bit at index i. It reports whether the bit was newly set.
func (b *Bitmap) Set(i int) bool {
	if b == nil || i < 0 || i >= b.bits {
		return false
	}
	byteIndex := i / 8
	mask := byte(1) << uint(i%8)
	if b.data[byteIndex]&mask != 0 {
		return false
	}
	b.data[byteIndex] |= mask
	b.set++
	return true
}

// Get reports whether the bit at index i is set.
func (b *Bitmap) Get(i int) bool {
	if b == nil || i < 0 || i >= b.bits {
		return false
	}
	byteIndex := i / 8
	bitIndex := uint(i % 8)
	return (b.data[byteIndex] & (1 << bitIndex)) != 0
}

// CountSet returns the number of set bits in the bitmap.
func (b *Bitmap) CountSet() int {
	if b == nil {
		return 0
	}
	return b.set
}

// Full reports whether every bit is set.
func (b *Bitmap) Full() bool {
	return b != nil && b.set == b.bits
}

// Missing returns the indices of unset bits in ascending order.
func (b *Bitmap) Missing() []int {
	if b == nil {
		return nil
	}
	out := make([]int, 0, b.bits-b.set)
	for i := 0; i < b.bits; i++ {
		if !b.Get(i) {
			out = append(out, i)
		}
	}
	return out
}
