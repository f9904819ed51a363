package crc

import "testing"

func TestChecksumKnownFrame(t *testing.T) {
	// 01 03 00 00 00 02 -> CRC C4 0B, a standard read-holding-registers request.
	lo, hi := Checksum([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02})
	if lo != 0xC4 || hi != 0x0B {
		t.Fatalf("got (%02X %02X), want (C4 0B)", lo, hi)
	}
}

func TestValidRoundTrip(t *testing.T) {
	data := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	frame := Append(data)
	if !Valid(frame) {
		t.Fatalf("Append+Valid round trip failed for % x", frame)
	}
}

func TestValidRejectsCorruption(t *testing.T) {
	frame := Append([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02})
	frame[0] ^= 0xFF
	if Valid(frame) {
		t.Fatalf("expected corrupted frame to fail CRC check")
	}
}

func TestValidShortFrame(t *testing.T) {
	if Valid([]byte{0x01}) {
		t.Fatalf("expected single-byte frame to be invalid")
	}
}

func TestAccumulateAnyStringResidueZero(t *testing.T) {
	samples := [][]byte{
		{0x02, 0x03, 0x00, 0x10, 0x00, 0x01},
		{0xFF, 0xAA},
		{},
		{0x01, 0x0F, 0x00, 0x00, 0x00, 0x08, 0x01, 0xFF},
	}
	for _, s := range samples {
		frame := Append(s)
		if !Valid(frame) {
			t.Fatalf("residue not zero for % x", s)
		}
	}
}
