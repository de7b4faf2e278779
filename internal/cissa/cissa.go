// Package cissa implements the DVB CISSA v1 descrambling profile used by
// BISS-2: AES-128-CBC over transport-packet payloads with a constant,
// public initialization vector that is reapplied for every packet.
package cissa

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// KeySize is the AES-128 session word size.
const KeySize = 16

// iv is the constant CISSA initialization vector ("DVBTMCPTAESCISSA").
var iv = [aes.BlockSize]byte{
	0x44, 0x56, 0x42, 0x54, 0x4d, 0x43, 0x50, 0x54,
	0x41, 0x45, 0x53, 0x43, 0x49, 0x53, 0x53, 0x41,
}

// Key holds an opened AES cipher for one parity slot.
type Key struct {
	block cipher.Block
}

// NewKey opens an AES cipher over the 16-byte session word.
func NewKey(key []byte) (*Key, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cissa: key size %d, expected %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cissa: %w", err)
	}
	return &Key{block: block}, nil
}

// Decrypt descrambles payload in place over the largest whole number of AES
// blocks; trailing bytes are passed through unchanged.
func (k *Key) Decrypt(payload []byte) {
	n := len(payload) &^ (aes.BlockSize - 1)
	if n == 0 {
		return
	}
	cbcIV := iv
	cipher.NewCBCDecrypter(k.block, cbcIV[:]).CryptBlocks(payload[:n], payload[:n])
}

// Encrypt scrambles payload in place; the inverse of Decrypt. It is used by
// fixture tooling and round-trip tests.
func (k *Key) Encrypt(payload []byte) {
	n := len(payload) &^ (aes.BlockSize - 1)
	if n == 0 {
		return
	}
	cbcIV := iv
	cipher.NewCBCEncrypter(k.block, cbcIV[:]).CryptBlocks(payload[:n], payload[:n])
}
