package csa

// streamSbox holds the seven 5-bit to 2-bit substitution boxes driving the
// stream layer's feedback state machine.
var streamSbox = [7][32]byte{
	{2, 0, 1, 1, 2, 3, 3, 0, 0, 2, 2, 1, 1, 3, 3, 0, 0, 3, 3, 0, 2, 1, 1, 2, 2, 3, 0, 3, 1, 0, 2, 1},
	{1, 1, 0, 3, 3, 0, 2, 3, 0, 1, 1, 2, 2, 3, 3, 0, 3, 2, 2, 0, 1, 1, 0, 3, 0, 2, 3, 0, 1, 3, 2, 2},
	{2, 0, 1, 2, 2, 3, 3, 1, 1, 1, 0, 3, 3, 0, 2, 0, 1, 3, 0, 1, 3, 0, 2, 2, 2, 0, 1, 2, 0, 3, 3, 1},
	{0, 1, 2, 2, 0, 0, 1, 3, 3, 2, 3, 2, 0, 1, 3, 1, 2, 3, 1, 0, 2, 2, 0, 3, 1, 2, 0, 1, 3, 0, 1, 3},
	{0, 2, 2, 3, 3, 0, 1, 1, 1, 0, 3, 2, 2, 1, 0, 3, 2, 3, 0, 0, 1, 3, 2, 1, 1, 0, 3, 2, 0, 1, 3, 2},
	{1, 0, 3, 2, 2, 3, 0, 1, 3, 3, 1, 0, 0, 2, 2, 1, 2, 1, 0, 3, 3, 0, 2, 1, 0, 3, 1, 2, 1, 2, 3, 0},
	{0, 3, 2, 2, 3, 0, 0, 1, 3, 0, 1, 3, 1, 2, 2, 1, 1, 0, 3, 3, 0, 1, 1, 2, 2, 3, 0, 2, 3, 1, 2, 0},
}

// streamCipher is the keystream generator: two ten-cell nibble registers and
// a handful of 4-bit accumulators clocked four times per output byte.
type streamCipher struct {
	a, b    [10]byte
	x, y, z byte
	p, q    byte
}

// newStreamCipher loads the registers from the control word and folds the
// 8-byte nonce into the state with 32 setup clocks.
func newStreamCipher(cw *[BlockSize]byte, nonce []byte) *streamCipher {
	c := &streamCipher{}
	for i := 0; i < 10; i++ {
		c.a[i] = nib(cw[:], i)
		c.b[i] = nib(cw[:], i+6)
	}
	for r := 0; r < 32; r++ {
		c.clock(nib(nonce, r&0xf))
	}
	return c
}

// nib returns the i-th nibble of buf, high nibble first.
func nib(buf []byte, i int) byte {
	v := buf[i>>1]
	if i&1 == 0 {
		return v >> 4
	}
	return v & 0xf
}

// sidx packs the low bits of five cells into a 5-bit sbox index.
func sidx(a, b, c, d, e byte) byte {
	return (a&1)<<4 | (b&1)<<3 | (c&1)<<2 | (d&1)<<1 | e&1
}

// clock advances the state machine by one step, mixing in one nibble of
// input, and returns two bits of keystream.
func (c *streamCipher) clock(in byte) byte {
	s1 := streamSbox[0][sidx(c.a[0], c.a[3], c.a[5], c.a[6], c.b[1])]
	s2 := streamSbox[1][sidx(c.a[1], c.a[4], c.b[0], c.b[6], c.b[9])]
	s3 := streamSbox[2][sidx(c.a[2], c.b[2], c.b[4], c.a[8], c.b[8])]
	s4 := streamSbox[3][sidx(c.a[7], c.b[3], c.b[5], c.a[9], c.b[7])]
	s5 := streamSbox[4][sidx(c.x, c.y, c.z, c.a[5]>>1, c.b[5]>>1)]
	s6 := streamSbox[5][sidx(c.p, c.q, c.a[6]>>1, c.b[6]>>1, c.x>>1)]
	s7 := streamSbox[6][sidx(c.a[9]>>1, c.b[9]>>1, c.z>>1, c.y>>1, c.p>>1)]

	fa := (c.a[9] ^ c.x ^ in) & 0xf
	fb := (c.b[9] ^ c.y) & 0xf
	if s6&1 != 0 {
		fb = (fb<<1 | fb>>3) & 0xf
	}

	copy(c.a[1:], c.a[:9])
	c.a[0] = fa
	copy(c.b[1:], c.b[:9])
	c.b[0] = fb

	c.x = s1<<2 | s2
	c.y = s3<<2 | s4
	c.z = s5<<2 | s6
	c.p = s7 >> 1
	c.q = s7 & 1

	return (s1 ^ s4) & 3
}

// next returns the next keystream byte.
func (c *streamCipher) next() byte {
	var b byte
	for i := 0; i < 4; i++ {
		b = b<<2 | c.clock(0)
	}
	return b
}
