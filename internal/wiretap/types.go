// Package wiretap implements the passive Modbus RTU wiretap pipeline: a
// Fetcher that owns a serial port, a Framer/Correlator that reconstructs
// request/response pairs from the raw byte stream, and a Decoder that
// turns correlated pairs into typed measures.
package wiretap

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Function codes that can appear as the second byte of a tapped frame.
// Each value is the function code byte itself; the request length for
// each code is kept in requestLengths below.
const (
	FuncReadCoils              byte = 0x01
	FuncReadDiscreteInputs     byte = 0x02
	FuncReadHoldingRegisters   byte = 0x03
	FuncReadInputRegisters     byte = 0x04
	FuncWriteSingleCoil        byte = 0x05
	FuncWriteSingleRegister    byte = 0x06
	FuncWriteMultipleCoils     byte = 0x0F
	FuncWriteMultipleRegisters byte = 0x10
)

// requestLengths maps a function code byte to the fixed length, in bytes,
// of a request frame carrying it (address + function + data + 2 CRC).
var requestLengths = map[byte]int{
	FuncReadCoils:              8,
	FuncReadDiscreteInputs:     8,
	FuncReadHoldingRegisters:   8,
	FuncReadInputRegisters:     8,
	FuncWriteSingleCoil:        8,
	FuncWriteSingleRegister:    8,
	FuncWriteMultipleCoils:     11,
	FuncWriteMultipleRegisters: 13,
}

// requestLength returns the fixed request length for fc and whether fc is
// a known function code at all (an unknown byte invalidates the position
// it was read from, per the framer's resync rule).
func requestLength(fc byte) (int, bool) {
	l, ok := requestLengths[fc]
	return l, ok
}

// registerReadFC reports whether fc is one of the two register-reading
// function codes the Decoder understands for int/float measures (as
// opposed to coil/discrete-input bit measures).
func registerReadFC(fc byte) bool {
	return fc == FuncReadHoldingRegisters || fc == FuncReadInputRegisters
}

// Frame is a contiguous run of bytes pulled off the rolling buffer once it
// has passed CRC validation, either as a request candidate or as a
// matched response.
type Frame []byte

// Slave returns the slave address byte (frame[0]).
func (f Frame) Slave() byte { return f[0] }

// Function returns the function code byte (frame[1]).
func (f Frame) Function() byte { return f[1] }

// CommaHex renders the frame as comma-joined two-digit hex byte tokens
// (e.g. "01,03,00,00"), the form the live-status foundPairs entries use
// for their request/response fields.
func (f Frame) CommaHex() string {
	tokens := make([]string, len(f))
	for i, b := range f {
		tokens[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(tokens, ",")
}

// Pair is a correlated (request, response) reconstructed from the wire.
type Pair struct {
	Port      string
	Slave     byte
	Function  byte
	Request   Frame
	Response  Frame
	Start     uint16
	End       uint16
	Timestamp time.Time
}

// UUID is the deterministic store key: the hex of the request's address
// bytes (everything between the leading addr/fc and the trailing CRC),
// concatenated with slave*1000+fc, concatenated with the port name. This
// is kept bit-for-bit compatible with the source implementation rather
// than redesigned into a collision-free hash, per the design notes: two
// different (slave, fc) pairs could in principle collide if their
// adjacent request payloads render to the same digits, but changing the
// scheme would break continuity with existing raw-store rows.
func (p Pair) UUID() string {
	body := p.Request[2 : len(p.Request)-2]
	idCall := int(p.Slave)*1000 + int(p.Function)
	return hex.EncodeToString(body) + strconv.Itoa(idCall) + p.Port
}
