package mpegts

import (
	"bytes"
	"errors"
	"testing"
)

func makePacket(pid uint16, sc Scrambling, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | byte(sc)<<6 // payload only
	copy(buf[4:], payload)
	return buf
}

func makePacketWithAF(pid uint16, afLen int, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x30 // adaptation + payload
	buf[4] = byte(afLen)
	offset := 5 + afLen
	if offset < PacketSize {
		copy(buf[offset:], payload)
	}
	return buf
}

func TestParseHeader_Normal(t *testing.T) {
	t.Parallel()
	buf := makePacket(0x100, ScramblingEven, []byte{0x01, 0x02})

	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.PID != 0x100 {
		t.Errorf("PID = 0x%X, want 0x100", h.PID)
	}
	if h.Scrambling != ScramblingEven {
		t.Errorf("Scrambling = %d, want even", h.Scrambling)
	}
	if !h.HasPayload {
		t.Error("HasPayload should be true")
	}
	if h.HasAdaptation {
		t.Error("HasAdaptation should be false")
	}
	if h.Size != 4 {
		t.Errorf("Size = %d, want 4", h.Size)
	}
}

func TestParseHeader_Scrambling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sc   Scrambling
	}{
		{"none", ScramblingNone},
		{"reserved", ScramblingReserved},
		{"even", ScramblingEven},
		{"odd", ScramblingOdd},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, err := ParseHeader(makePacket(0x1FFF, tc.sc, nil))
			if err != nil {
				t.Fatal(err)
			}
			if h.Scrambling != tc.sc {
				t.Errorf("Scrambling = %d, want %d", h.Scrambling, tc.sc)
			}
			if h.PID != 0x1FFF {
				t.Errorf("PID = 0x%X, want 0x1FFF", h.PID)
			}
		})
	}
}

func TestParseHeader_AdaptationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		afLen    int
		wantSize int
		wantErr  error
	}{
		{"af_0_bytes", 0, 5, nil},
		{"af_1_byte", 1, 6, nil},
		{"af_100_bytes", 100, 105, nil},
		{"af_182_bytes", 182, 187, nil},
		{"af_183_bytes", 183, 0, ErrAdaptationInvalid},
		{"af_200_bytes", 200, 0, ErrAdaptationInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, err := ParseHeader(makePacketWithAF(0x100, tc.afLen, []byte{0xAA}))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !h.HasAdaptation {
				t.Error("HasAdaptation should be true")
			}
			if h.Size != tc.wantSize {
				t.Errorf("Size = %d, want %d", h.Size, tc.wantSize)
			}
		})
	}
}

func TestParseHeader_Short(t *testing.T) {
	t.Parallel()
	if _, err := ParseHeader([]byte{0x47, 0x00, 0x00}); !errors.Is(err, ErrHeaderUnreadable) {
		t.Errorf("err = %v, want ErrHeaderUnreadable", err)
	}
	// adaptation flag set but no length byte available
	if _, err := ParseHeader([]byte{0x47, 0x00, 0x00, 0x30}); !errors.Is(err, ErrHeaderUnreadable) {
		t.Errorf("err = %v, want ErrHeaderUnreadable", err)
	}
}

func TestPacket_Clone(t *testing.T) {
	t.Parallel()
	orig := NewPacket(makePacket(0x100, ScramblingEven, []byte{1, 2, 3}))
	clone := orig.Clone()

	if !bytes.Equal(clone.Data, orig.Data) {
		t.Fatal("clone differs from original")
	}
	clone.Data[10] = 0xFF
	if orig.Data[10] == 0xFF {
		t.Error("mutating the clone changed the original")
	}
}

func TestPacket_SetScrambling(t *testing.T) {
	t.Parallel()
	pkt := NewPacket(makePacket(0x100, ScramblingOdd, nil))
	pkt.SetScrambling(ScramblingNone)

	h, err := ParseHeader(pkt.Data)
	if err != nil {
		t.Fatal(err)
	}
	if h.Scrambling != ScramblingNone {
		t.Errorf("Scrambling = %d, want none", h.Scrambling)
	}
	if !h.HasPayload {
		t.Error("clearing scrambling must not touch the payload flag")
	}
}

func TestReader_Sequence(t *testing.T) {
	t.Parallel()
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, makePacket(uint16(0x100+i), ScramblingNone, []byte{byte(i)})...)
	}

	r := NewReader(bytes.NewReader(stream))
	for i := 0; i < 3; i++ {
		pkt, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		h, err := ParseHeader(pkt.Data)
		if err != nil {
			t.Fatal(err)
		}
		if h.PID != uint16(0x100+i) {
			t.Errorf("packet %d: PID = 0x%X, want 0x%X", i, h.PID, 0x100+i)
		}
	}
	if _, err := r.Next(); err == nil {
		t.Error("expected EOF after last packet")
	}
}

func TestReader_Resync(t *testing.T) {
	t.Parallel()
	pkt := makePacket(0x123, ScramblingNone, []byte{0xAB})
	stream := append([]byte{0x00, 0x11, 0x22}, pkt...) // garbage prefix
	stream = append(stream, pkt...)

	r := NewReader(bytes.NewReader(stream))
	got, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, pkt) {
		t.Error("resynchronized packet differs from original")
	}
}

func TestReader_TruncatedTail(t *testing.T) {
	t.Parallel()
	pkt := makePacket(0x100, ScramblingNone, nil)
	stream := append(append([]byte{}, pkt...), pkt[:50]...)

	r := NewReader(bytes.NewReader(stream))
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err == nil {
		t.Error("expected EOF for truncated trailing packet")
	}
}

func TestWriter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	pkt := NewPacket(makePacket(0x100, ScramblingNone, []byte{9}))
	if err := w.WritePacket(pkt); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), pkt.Data) {
		t.Error("written bytes differ from packet")
	}
}
