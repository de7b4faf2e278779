package cissa

import (
	"bytes"
	"testing"
)

var testKey = []byte("0123456789abcdef")

func fillPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*11 + 5)
	}
	return p
}

func TestNewKey_Size(t *testing.T) {
	t.Parallel()
	if _, err := NewKey(testKey); err != nil {
		t.Fatal(err)
	}
	if _, err := NewKey(testKey[:8]); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewKey(append(testKey, testKey...)); err == nil {
		t.Error("expected error for long key")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	key, err := NewKey(testKey)
	if err != nil {
		t.Fatal(err)
	}
	clear := fillPayload(176)
	payload := append([]byte(nil), clear...)

	key.Encrypt(payload)
	if bytes.Equal(payload, clear) {
		t.Fatal("encryption left the payload unchanged")
	}
	key.Decrypt(payload)
	if !bytes.Equal(payload, clear) {
		t.Fatal("round trip did not restore the payload")
	}
}

func TestTrailingBytesUntouched(t *testing.T) {
	t.Parallel()
	key, err := NewKey(testKey)
	if err != nil {
		t.Fatal(err)
	}
	clear := fillPayload(184) // 11 AES blocks + 8 trailing bytes
	payload := append([]byte(nil), clear...)

	key.Encrypt(payload)
	if !bytes.Equal(payload[176:], clear[176:]) {
		t.Error("encrypt touched the trailing bytes")
	}
	key.Decrypt(payload)
	if !bytes.Equal(payload, clear) {
		t.Error("round trip did not restore the payload")
	}
}

func TestShortPayloadUnchanged(t *testing.T) {
	t.Parallel()
	key, err := NewKey(testKey)
	if err != nil {
		t.Fatal(err)
	}
	clear := fillPayload(15)
	payload := append([]byte(nil), clear...)
	key.Decrypt(payload)
	if !bytes.Equal(payload, clear) {
		t.Error("sub-block payload must pass through unchanged")
	}
}

// The vector is constant and reapplied per packet, so equal payloads must
// scramble identically regardless of what was processed in between.
func TestVectorResetPerPacket(t *testing.T) {
	t.Parallel()
	key, err := NewKey(testKey)
	if err != nil {
		t.Fatal(err)
	}
	a := fillPayload(64)
	between := fillPayload(128)
	b := fillPayload(64)

	key.Encrypt(a)
	key.Encrypt(between)
	key.Encrypt(b)
	if !bytes.Equal(a, b) {
		t.Error("equal payloads scrambled differently")
	}
}
