package wiretap

import (
	"encoding/binary"
	"encoding/hex"
	"log"
	"time"

	"github.com/lumberbarons/wiretap/internal/crc"
)

// frameState is the two-state synchronization machine described in the
// wiretap design: COLD until the first validated request is found on an
// otherwise unframed byte stream, HOT (permanently) afterward.
type frameState int

const (
	stateCold frameState = iota
	stateHot
)

const (
	watchdogLimit      = 1000
	unclaimedCapacity  = 20
	serialWindowLength = 500
)

// commRecord tracks when a (slave, function) pair was last seen answered,
// so long-idle targets can have their mirrored data block reset.
type commRecord struct {
	slave, fc byte
	lastSeen  time.Time
}

// Framer reconstructs request/response pairs from an unframed byte
// stream tapped off a single serial line. It holds the rolling buffer,
// the list of unclaimed request candidates, and the communications
// table used for the stale-target sweep; see SPEC_FULL.md §4.3.
type Framer struct {
	Port string

	state     frameState
	buffer    []byte
	unclaimed []Frame

	communications map[string]commRecord
	clearInterval  time.Duration

	serialWindow []byte

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
	// OnWatchdog is invoked when the 1000-byte watchdog trips (the
	// pipeline uses it to tear down and restart the port's Fetcher).
	OnWatchdog func()
	// OnStaleTarget is invoked once per communications entry older than
	// clearInterval, signaling that the slave's mirrored data block for
	// that function should be re-requested by the master.
	OnStaleTarget func(slave, fc byte)

	Logger *log.Logger
}

// NewFramer creates a Framer for port, cold-starting its state machine.
// clearInterval defaults to 300s when zero or negative.
func NewFramer(port string, clearInterval time.Duration) *Framer {
	if clearInterval <= 0 {
		clearInterval = 300 * time.Second
	}
	return &Framer{
		Port:           port,
		state:          stateCold,
		communications: make(map[string]commRecord),
		clearInterval:  clearInterval,
		Now:            time.Now,
	}
}

// State reports whether the framer has synchronized onto the stream yet.
func (fr *Framer) State() string {
	if fr.state == stateCold {
		return "cold"
	}
	return "hot"
}

// BufferLen reports the current rolling buffer length, for tests and
// diagnostics asserting the watchdog invariant (len(buffer) <= 1000 at
// the end of every tick).
func (fr *Framer) BufferLen() int { return len(fr.buffer) }

// UnclaimedLen reports how many request candidates are awaiting a
// response, for tests asserting the 20-entry cap.
func (fr *Framer) UnclaimedLen() int { return len(fr.unclaimed) }

// SerialWindow returns the last (up to 500) bytes seen on the line as
// hex-byte tokens, the form the live-status sink mirrors verbatim.
func (fr *Framer) SerialWindow() []string {
	out := make([]string, len(fr.serialWindow))
	for i, b := range fr.serialWindow {
		out[i] = hex.EncodeToString([]byte{b})
	}
	return out
}

// Feed appends newly fetched bytes to the rolling buffer, mirrors them
// into the serial window, and drives the state machine until it can make
// no further progress without more data. It returns every pair
// correlated as a result of this feed (normally 0 or 1, but a single
// large feed following a stall can yield several).
func (fr *Framer) Feed(data []byte) []Pair {
	if len(data) > 0 {
		fr.buffer = append(fr.buffer, data...)
		fr.mirror(data)
	}

	var pairs []Pair
	for {
		pair, progressed := fr.step()
		if pair != nil {
			pairs = append(pairs, *pair)
		}
		if !progressed {
			return pairs
		}
	}
}

func (fr *Framer) mirror(data []byte) {
	fr.serialWindow = append(fr.serialWindow, data...)
	if len(fr.serialWindow) > serialWindowLength {
		fr.serialWindow = fr.serialWindow[len(fr.serialWindow)-serialWindowLength:]
	}
}

// step performs one micro-step of the state machine: a single byte pop,
// a single frame extraction, a single watchdog trip, or nothing (the
// buffer requires more data before any further decision can be made).
// It returns the pair emitted, if any, and whether any state changed.
func (fr *Framer) step() (*Pair, bool) {
	if len(fr.buffer) > watchdogLimit {
		fr.tripWatchdog()
		return nil, true
	}

	if fr.state == stateCold {
		return fr.stepCold()
	}
	return fr.stepHot()
}

func (fr *Framer) tripWatchdog() {
	fr.logf("modbus wiretap: port %s buffer exceeded %d bytes, resetting and restarting fetcher", fr.Port, watchdogLimit)
	fr.buffer = nil
	fr.unclaimed = nil
	fr.state = stateCold
	if fr.OnWatchdog != nil {
		fr.OnWatchdog()
	}
}

// stepCold implements SPEC_FULL.md §4.3's COLD rule: slide one byte at a
// time until a CRC-valid request-shaped frame is found, then transition
// to HOT.
func (fr *Framer) stepCold() (*Pair, bool) {
	if len(fr.buffer) < 8 {
		return nil, false
	}
	l, ok := requestLength(fr.buffer[1])
	if !ok {
		fr.buffer = fr.buffer[1:]
		return nil, true
	}
	if len(fr.buffer) < l {
		return nil, false
	}
	candidate := cloneFrame(fr.buffer[:l])
	if crc.Valid(candidate) {
		fr.unclaimed = append(fr.unclaimed, candidate)
		fr.buffer = fr.buffer[l:]
		fr.state = stateHot
		return nil, true
	}
	fr.buffer = fr.buffer[1:]
	return nil, true
}

// stepHot implements SPEC_FULL.md §4.3's HOT rule, in order: the
// communications sweep, buffer preconditions, the response-matching
// attempt against every unclaimed candidate, and finally the
// new-request attempt.
func (fr *Framer) stepHot() (*Pair, bool) {
	fr.sweepCommunications()

	if len(fr.buffer) < 2 {
		return nil, false
	}
	l, ok := requestLength(fr.buffer[1])
	if !ok {
		fr.buffer = fr.buffer[1:]
		return nil, true
	}

	needMoreData := false
	for i, req := range fr.unclaimed {
		if fr.buffer[0] != req[0] || fr.buffer[1] != req[1] {
			continue
		}
		if len(fr.buffer) < 3 {
			needMoreData = true
			continue
		}
		total := int(fr.buffer[2]) + 5
		if len(fr.buffer) < total {
			needMoreData = true
			continue
		}
		response := cloneFrame(fr.buffer[:total])
		if !crc.Valid(response) {
			// Coincidental address/function match; the CRC says this
			// isn't actually R's response. Keep checking other
			// candidates rather than treating it as a match.
			continue
		}
		pair := fr.buildPair(req, response)
		fr.unclaimed = append(fr.unclaimed[:i:i], fr.unclaimed[i+1:]...)
		fr.buffer = fr.buffer[total:]
		fr.recordCommunication(pair)
		return &pair, true
	}

	if len(fr.buffer) < l {
		// Too short to even attempt a new-request candidate. Always
		// wait for more data here rather than resync, even if no
		// unclaimed candidate is pending: a short but otherwise
		// well-formed-looking request prefix is still worth waiting
		// out (e.g. 7 of 8 bytes of a valid request).
		return nil, false
	}

	candidate := cloneFrame(fr.buffer[:l])
	if crc.Valid(candidate) {
		fr.unclaimed = append(fr.unclaimed, candidate)
		if len(fr.unclaimed) > unclaimedCapacity {
			fr.unclaimed = fr.unclaimed[1:]
		}
		fr.buffer = fr.buffer[l:]
		return nil, true
	}

	// Long enough but its CRC failed: resync by one byte unless some
	// candidate is still waiting on more data to complete its response.
	if !needMoreData {
		fr.buffer = fr.buffer[1:]
		return nil, true
	}
	return nil, false
}

func (fr *Framer) buildPair(req, resp Frame) Pair {
	start := binary.BigEndian.Uint16(req[2:4])
	count := binary.BigEndian.Uint16(req[4:6])
	return Pair{
		Port:      fr.Port,
		Slave:     req[0],
		Function:  req[1],
		Request:   req,
		Response:  resp,
		Start:     start,
		End:       start + count,
		Timestamp: fr.Now(),
	}
}

func (fr *Framer) recordCommunication(p Pair) {
	fr.communications[p.UUID()] = commRecord{slave: p.Slave, fc: p.Function, lastSeen: fr.Now()}
}

// sweepCommunications signals OnStaleTarget for every entry older than
// clearInterval and refreshes its timestamp, per SPEC_FULL.md §4.3(a).
func (fr *Framer) sweepCommunications() {
	if len(fr.communications) == 0 {
		return
	}
	now := fr.Now()
	for uuid, rec := range fr.communications {
		if now.Sub(rec.lastSeen) < fr.clearInterval {
			continue
		}
		if fr.OnStaleTarget != nil {
			fr.OnStaleTarget(rec.slave, rec.fc)
		}
		rec.lastSeen = now
		fr.communications[uuid] = rec
	}
}

func (fr *Framer) logf(format string, args ...any) {
	if fr.Logger != nil {
		fr.Logger.Printf(format, args...)
	}
}

func cloneFrame(b []byte) Frame {
	out := make(Frame, len(b))
	copy(out, b)
	return out
}
