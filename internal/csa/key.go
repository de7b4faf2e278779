// Package csa implements the DVB Common Scrambling Algorithm over
// transport-packet payloads: a 56-round block layer chained across 8-byte
// blocks, combined with a nonce-seeded stream layer. Payload bytes beyond
// the last whole block (the residue) are passed through untouched.
package csa

import (
	"encoding/binary"
	"math/bits"
)

// BlockSize is the block layer's cipher block size.
const BlockSize = 8

const rounds = 56

// Key holds an expanded control word for the scalar cipher.
type Key struct {
	cw [BlockSize]byte
	kk [rounds]byte
}

// NewKey expands the 8-byte control word cw into a round-key schedule.
func NewKey(cw [BlockSize]byte) *Key {
	k := &Key{cw: cw}
	k.schedule()
	return k
}

// schedule derives the 56 round keys: seven diffusion rounds over the
// control word, one 8-byte slice each, with the byte index folded in so an
// all-zero control word still yields 56 distinct round keys.
func (k *Key) schedule() {
	w := binary.BigEndian.Uint64(k.cw[:])
	for r := 0; r < rounds/BlockSize; r++ {
		w ^= bits.RotateLeft64(w, 19) ^ bits.RotateLeft64(w, 41)
		binary.BigEndian.PutUint64(k.kk[r*BlockSize:(r+1)*BlockSize], w)
	}
	for i := range k.kk {
		k.kk[i] ^= byte(i)
	}
}
