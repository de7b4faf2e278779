// Package cw decodes the textual control-word forms accepted by the
// descrambler control surface.
//
// Three hex encodings are understood:
//
//	12 digits — a 6-byte CSA word; the checksum bytes are inserted
//	16 digits — a full 8-byte CSA word including checksum bytes
//	32 digits — a 16-byte AES key
package cw

import (
	"encoding/hex"
	"errors"
)

// CSAWordSize is the size of a DVB-CSA control word.
const CSAWordSize = 8

// AESKeySize is the size of an AES-128 key.
const AESKeySize = 16

// ErrInvalid is returned for a control word string that matches none of the
// accepted encodings.
var ErrInvalid = errors.New("cw: invalid control word")

// CW is a decoded control word: either an 8-byte CSA word or a 16-byte AES
// key, classified by the length of its encoded form.
type CW struct {
	data [AESKeySize]byte
	size int
}

// Parse decodes a control word from its hex form.
func Parse(s string) (CW, error) {
	var c CW
	switch len(s) {
	case 12:
		var short [6]byte
		if _, err := hex.Decode(short[:], []byte(s)); err != nil {
			return CW{}, ErrInvalid
		}
		copy(c.data[0:3], short[0:3])
		copy(c.data[4:7], short[3:6])
		c.data[3] = c.data[0] + c.data[1] + c.data[2]
		c.data[7] = c.data[4] + c.data[5] + c.data[6]
		c.size = CSAWordSize
	case 16:
		if _, err := hex.Decode(c.data[:CSAWordSize], []byte(s)); err != nil {
			return CW{}, ErrInvalid
		}
		c.size = CSAWordSize
	case 32:
		if _, err := hex.Decode(c.data[:], []byte(s)); err != nil {
			return CW{}, ErrInvalid
		}
		c.size = AESKeySize
	default:
		return CW{}, ErrInvalid
	}
	return c, nil
}

// IsAES reports whether the word was given in the AES key encoding.
func (c CW) IsAES() bool {
	return c.size == AESKeySize
}

// CSAWord returns the 8-byte CSA control word. For an AES-encoded word this
// is the leading half of the key.
func (c CW) CSAWord() [CSAWordSize]byte {
	var w [CSAWordSize]byte
	copy(w[:], c.data[:CSAWordSize])
	return w
}

// AESKey returns the 16-byte AES key.
func (c CW) AESKey() []byte {
	return c.data[:]
}
