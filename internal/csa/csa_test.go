package csa

import (
	"bytes"
	"testing"
)

var testCW = [8]byte{0x11, 0x22, 0x33, 0x66, 0x55, 0x66, 0x77, 0x32}

func fillPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 3)
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		size int
	}{
		{"one_block", 8},
		{"two_blocks", 16},
		{"full_payload", 184},
		{"twenty_two_blocks", 176},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			key := NewKey(testCW)
			clear := fillPayload(tc.size)
			payload := append([]byte(nil), clear...)

			key.Encrypt(payload)
			if bytes.Equal(payload, clear) {
				t.Fatal("encryption left the payload unchanged")
			}
			key.Decrypt(payload)
			if !bytes.Equal(payload, clear) {
				t.Fatal("round trip did not restore the payload")
			}
		})
	}
}

func TestResidueUntouched(t *testing.T) {
	t.Parallel()
	key := NewKey(testCW)
	clear := fillPayload(21) // 2 blocks + 5 residue bytes
	payload := append([]byte(nil), clear...)

	key.Encrypt(payload)
	if !bytes.Equal(payload[16:], clear[16:]) {
		t.Error("encrypt touched the residue")
	}
	key.Decrypt(payload)
	if !bytes.Equal(payload, clear) {
		t.Error("round trip did not restore the payload")
	}
}

func TestShortPayloadUnchanged(t *testing.T) {
	t.Parallel()
	key := NewKey(testCW)
	clear := fillPayload(7)
	payload := append([]byte(nil), clear...)
	key.Encrypt(payload)
	if !bytes.Equal(payload, clear) {
		t.Error("sub-block payload must pass through unchanged")
	}
}

func TestWrongKeyFails(t *testing.T) {
	t.Parallel()
	clear := fillPayload(64)
	payload := append([]byte(nil), clear...)
	NewKey(testCW).Encrypt(payload)

	other := testCW
	other[0] ^= 0x80
	NewKey(other).Decrypt(payload)
	if bytes.Equal(payload, clear) {
		t.Error("a different control word must not descramble the payload")
	}
}

func TestEncryptDeterministic(t *testing.T) {
	t.Parallel()
	key := NewKey(testCW)
	a := fillPayload(64)
	b := fillPayload(64)
	key.Encrypt(a)
	key.Encrypt(b)
	if !bytes.Equal(a, b) {
		t.Error("encryption must be a pure function of key and payload")
	}
}

func TestBatchSize(t *testing.T) {
	t.Parallel()
	if BatchSize() <= 1 {
		t.Fatalf("BatchSize() = %d, want > 1", BatchSize())
	}
}

func TestDecryptBatch(t *testing.T) {
	t.Parallel()
	scalar := NewKey(testCW)
	bs := NewBSKey(testCW)

	const n = 5
	clears := make([][]byte, n)
	items := make([]BatchItem, 0, n+2)
	for i := 0; i < n; i++ {
		clears[i] = fillPayload(184)
		clears[i][0] = byte(i)
		payload := append([]byte(nil), clears[i]...)
		scalar.Encrypt(payload)
		items = append(items, BatchItem{Data: payload})
	}

	// Items beyond the sentinel must not be touched.
	straggler := fillPayload(184)
	items = append(items, BatchItem{}, BatchItem{Data: append([]byte(nil), straggler...)})

	bs.DecryptBatch(items, 184)

	for i := 0; i < n; i++ {
		if !bytes.Equal(items[i].Data, clears[i]) {
			t.Errorf("item %d not descrambled", i)
		}
	}
	if !bytes.Equal(items[n+1].Data, straggler) {
		t.Error("item beyond the sentinel was modified")
	}
}

func TestDecryptBatchMaxLen(t *testing.T) {
	t.Parallel()
	bs := NewBSKey(testCW)
	payload := fillPayload(184)
	tail := append([]byte(nil), payload[16:]...)

	bs.DecryptBatch([]BatchItem{{Data: payload}}, 16)
	if !bytes.Equal(payload[16:], tail) {
		t.Error("bytes beyond maxLen were modified")
	}
}
