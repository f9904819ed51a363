package wiretap

import (
	"testing"
	"time"

	"github.com/lumberbarons/wiretap/internal/crc"
)

func frame(b ...byte) []byte { return crc.Append(b) }

func TestFramerColdWaitsForFullRequest(t *testing.T) {
	fr := NewFramer("COM1", 0)
	req := frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x02)

	pairs := fr.Feed(req[:len(req)-1])
	if len(pairs) != 0 {
		t.Fatalf("expected no pairs from a 7-byte partial request, got %d", len(pairs))
	}
	if fr.State() != "cold" {
		t.Fatalf("expected framer to remain cold on partial data, got %s", fr.State())
	}
	if fr.BufferLen() != len(req)-1 {
		t.Fatalf("expected buffer to retain all 7 bytes, got %d", fr.BufferLen())
	}

	pairs = fr.Feed(req[len(req)-1:])
	if len(pairs) != 0 {
		t.Fatalf("a lone request (no response yet) must not be emitted as a pair")
	}
	if fr.State() != "hot" {
		t.Fatalf("expected framer to go hot once the 8th byte completes a valid request, got %s", fr.State())
	}
	if fr.UnclaimedLen() != 1 {
		t.Fatalf("expected the validated request to become an unclaimed candidate, got %d", fr.UnclaimedLen())
	}
}

func TestFramerColdResyncsOnGarbage(t *testing.T) {
	fr := NewFramer("COM1", 0)
	req := frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x02)
	garbage := append([]byte{0xFF, 0xAA}, req...)

	fr.Feed(garbage)
	if fr.State() != "hot" {
		t.Fatalf("expected framer to resync past garbage bytes and find the request, got %s", fr.State())
	}
	if fr.UnclaimedLen() != 1 {
		t.Fatalf("expected exactly one unclaimed request after resync, got %d", fr.UnclaimedLen())
	}
}

func TestFramerCorrelatesRequestResponse(t *testing.T) {
	fr := NewFramer("COM1", 0)
	req := frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x02)
	resp := frame(0x01, 0x03, 0x04, 0x00, 0x2A, 0x00, 0x64)

	fr.Feed(req)
	pairs := fr.Feed(resp)

	if len(pairs) != 1 {
		t.Fatalf("expected exactly one correlated pair, got %d", len(pairs))
	}
	p := pairs[0]
	if p.Slave != 0x01 || p.Function != 0x03 {
		t.Fatalf("unexpected pair identity: slave=%d fc=%d", p.Slave, p.Function)
	}
	if p.Start != 0 || p.End != 2 {
		t.Fatalf("unexpected start/end: start=%d end=%d", p.Start, p.End)
	}
	if fr.UnclaimedLen() != 0 {
		t.Fatalf("expected the matched request to be removed from unclaimed, got %d", fr.UnclaimedLen())
	}
}

func TestFramerHotWaitsForFullNextRequest(t *testing.T) {
	fr := NewFramer("COM1", 0)
	first := frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x02)
	fr.Feed(first)
	if fr.State() != "hot" {
		t.Fatalf("expected framer to be hot after the first valid request, got %s", fr.State())
	}

	// Complete the first request so nothing is left in unclaimed needing
	// more data, then feed a second request's first 7 bytes only.
	resp := frame(0x01, 0x03, 0x04, 0x00, 0x2A, 0x00, 0x64)
	fr.Feed(resp)
	if fr.UnclaimedLen() != 0 {
		t.Fatalf("expected no unclaimed candidates before the partial second request")
	}

	second := frame(0x02, 0x03, 0x00, 0x00, 0x00, 0x01)
	pairs := fr.Feed(second[:len(second)-1])
	if len(pairs) != 0 {
		t.Fatalf("expected no pairs from a 7-byte partial request, got %d", len(pairs))
	}
	if fr.BufferLen() != len(second)-1 {
		t.Fatalf("expected the framer to wait for the 8th byte rather than resync, got buffer len %d", fr.BufferLen())
	}

	pairs = fr.Feed(second[len(second)-1:])
	if len(pairs) != 0 {
		t.Fatalf("a lone request (no response yet) must not be emitted as a pair")
	}
	if fr.UnclaimedLen() != 1 {
		t.Fatalf("expected the completed request to become an unclaimed candidate, got %d", fr.UnclaimedLen())
	}
}

func TestFramerInterleavedUnrelatedTraffic(t *testing.T) {
	fr := NewFramer("COM1", 0)
	reqA := frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x02)
	reqB := frame(0x02, 0x03, 0x00, 0x10, 0x00, 0x01)
	respB := frame(0x02, 0x03, 0x02, 0x00, 0x7B)
	respA := frame(0x01, 0x03, 0x04, 0x00, 0x2A, 0x00, 0x64)

	fr.Feed(reqA)
	fr.Feed(reqB)
	if fr.UnclaimedLen() != 2 {
		t.Fatalf("expected both unrelated requests held as unclaimed, got %d", fr.UnclaimedLen())
	}

	pairs := fr.Feed(respB)
	if len(pairs) != 1 || pairs[0].Slave != 0x02 {
		t.Fatalf("expected respB to correlate with reqB despite reqA being older, got %+v", pairs)
	}

	pairs = fr.Feed(respA)
	if len(pairs) != 1 || pairs[0].Slave != 0x01 {
		t.Fatalf("expected respA to correlate with reqA, got %+v", pairs)
	}
}

func TestFramerWatchdogResetsOnOverflow(t *testing.T) {
	fr := NewFramer("COM1", 0)
	tripped := false
	fr.OnWatchdog = func() { tripped = true }

	junk := make([]byte, watchdogLimit+1)
	for i := range junk {
		junk[i] = 0xEE
	}
	fr.Feed(junk)

	if !tripped {
		t.Fatalf("expected watchdog hook to fire once buffer exceeded %d bytes", watchdogLimit)
	}
	if fr.BufferLen() != 0 {
		t.Fatalf("expected buffer to be cleared after watchdog trip, got %d bytes", fr.BufferLen())
	}
	if fr.State() != "cold" {
		t.Fatalf("expected framer to return to cold state after watchdog trip, got %s", fr.State())
	}
}

func TestFramerUnclaimedCapAt20(t *testing.T) {
	fr := NewFramer("COM1", 0)
	// First request goes through COLD and seeds HOT state.
	fr.Feed(frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x01))

	for i := 2; i <= 25; i++ {
		fr.Feed(frame(byte(i), 0x03, 0x00, 0x00, 0x00, 0x01))
	}

	if fr.UnclaimedLen() != unclaimedCapacity {
		t.Fatalf("expected unclaimed list capped at %d, got %d", unclaimedCapacity, fr.UnclaimedLen())
	}
}

func TestFramerStaleTargetSweep(t *testing.T) {
	fr := NewFramer("COM1", 10*time.Second)
	now := time.Now()
	fr.Now = func() time.Time { return now }

	req := frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x02)
	resp := frame(0x01, 0x03, 0x04, 0x00, 0x2A, 0x00, 0x64)
	fr.Feed(req)
	fr.Feed(resp)

	var staleSlave, staleFC byte
	var fired bool
	fr.OnStaleTarget = func(slave, fc byte) {
		fired = true
		staleSlave, staleFC = slave, fc
	}

	now = now.Add(11 * time.Second)
	// Feed an unrelated byte to trigger another HOT tick (the sweep runs
	// once per tick, not on a background timer).
	fr.Feed([]byte{0x00})

	if !fired {
		t.Fatalf("expected stale-target sweep to fire after clearInterval elapsed")
	}
	if staleSlave != 0x01 || staleFC != 0x03 {
		t.Fatalf("unexpected stale target: slave=%d fc=%d", staleSlave, staleFC)
	}
}

func TestFramerInvalidCRCDoesNotFalselyMatch(t *testing.T) {
	fr := NewFramer("COM1", 0)
	req := frame(0x01, 0x03, 0x00, 0x00, 0x00, 0x02)
	fr.Feed(req)

	// Same slave/function prefix but a corrupted CRC must not be accepted
	// as the response; the framer should resync past it instead.
	badResp := frame(0x01, 0x03, 0x04, 0x00, 0x2A, 0x00, 0x64)
	badResp[len(badResp)-1] ^= 0xFF

	pairs := fr.Feed(badResp)
	if len(pairs) != 0 {
		t.Fatalf("expected no pair emitted for a CRC-corrupted response, got %d", len(pairs))
	}
}
