package wiretap

import (
	"encoding/binary"
	"log"
	"math"
	"time"
)

// Measure is one decoded, scaled data point ready for the Measure Store.
type Measure struct {
	DeviceDAQ string
	Name      string
	Value     float64
	Timestamp time.Time
}

// Decoder turns correlated pairs into measures using the mapping
// published by the Controller. It holds no per-pair state; every
// Decode call is independent.
type Decoder struct {
	Logger *log.Logger
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewDecoder returns a Decoder ready to use.
func NewDecoder() *Decoder {
	return &Decoder{Now: time.Now}
}

// Decode extracts every measure template entry covers within pair's
// response payload, per SPEC_FULL.md §4.4. It returns nil (no error) if
// the pair's (port, slave) is unmapped, or if the function code isn't
// one of the four decodable reads — the pair is still worth recording
// in the Raw Store even when it yields no measures.
func (d *Decoder) Decode(pair Pair, mapping *Mapping) []Measure {
	if !decodableFunction(pair.Function) {
		return nil
	}
	sm, ok := mapping.Lookup(pair.Port, pair.Response.Slave())
	if !ok {
		return nil
	}
	if len(pair.Response) < 5 {
		return nil
	}
	payload := pair.Response[3 : len(pair.Response)-2]

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	ts := now()

	var measures []Measure
	for _, entry := range sm.Templates {
		if entry.Address < pair.Start || entry.Address > pair.End {
			continue
		}
		value, ok := d.decodeEntry(pair.Function, entry, payload, pair.Start)
		if !ok {
			continue
		}
		measures = append(measures, Measure{
			DeviceDAQ: sm.DeviceDAQ,
			Name:      entry.MeasureName,
			Value:     value,
			Timestamp: ts,
		})
	}
	return measures
}

func decodableFunction(fc byte) bool {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		return true
	}
	return false
}

// decodeEntry returns the scaled value for a single template entry, or
// ok=false if the entry is out of range or malformed.
func (d *Decoder) decodeEntry(fc byte, entry TemplateEntry, payload []byte, start uint16) (float64, bool) {
	if registerReadFC(fc) {
		adjusted := int(entry.Address-start) * 2
		if adjusted >= len(payload) {
			return 0, false
		}
		return d.decodeRegister(entry, payload, adjusted)
	}

	adjusted := int(entry.Address-start) / 8
	if adjusted >= len(payload) {
		return 0, false
	}
	bitIndex := int(entry.Address) - (int(start) + adjusted*8)
	b := payload[adjusted]
	if b&(1<<uint(bitIndex)) != 0 {
		return 1, true
	}
	return 0, true
}

func (d *Decoder) decodeRegister(entry TemplateEntry, payload []byte, adjusted int) (float64, bool) {
	switch entry.DataType {
	case DataInt16, DataUint16:
		if adjusted+2 > len(payload) || !validByteWordOrder(entry.Order) {
			d.logMalformed(entry)
			return 0, false
		}
		raw := reorder16(payload[adjusted:adjusted+2], entry.Order)
		bits := binary.BigEndian.Uint16(raw)
		var value float64
		if entry.DataType == DataInt16 {
			value = float64(int16(bits))
		} else {
			value = float64(bits)
		}
		return applyScaling(value, entry.Scaling), true

	case DataInt32, DataUint32, DataFloat32:
		if adjusted+4 > len(payload) || !validByteWordOrder(entry.Order) {
			d.logMalformed(entry)
			return 0, false
		}
		raw := reorder32(payload[adjusted:adjusted+4], entry.Order)
		bits := binary.BigEndian.Uint32(raw)
		var value float64
		switch entry.DataType {
		case DataInt32:
			value = float64(int32(bits))
		case DataUint32:
			value = float64(bits)
		case DataFloat32:
			value = float64(math.Float32frombits(bits))
		}
		return applyScaling(value, entry.Scaling), true

	case DataBitpacked:
		if adjusted+2 > len(payload) {
			return 0, false
		}
		// "No endianness conversion applies": the word is read as it
		// sits in the payload, and the result is a raw 0/1 flag, not a
		// scaled measurement.
		word := binary.BigEndian.Uint16(payload[adjusted : adjusted+2])
		if word&(1<<uint(entry.Bit)) != 0 {
			return 1, true
		}
		return 0, true

	default:
		d.logMalformed(entry)
		return 0, false
	}
}

func (d *Decoder) logMalformed(entry TemplateEntry) {
	if d.Logger != nil {
		d.Logger.Printf("modbus wiretap: skipping malformed template entry %q (dataType=%q order=%q)", entry.MeasureName, entry.DataType, entry.Order)
	}
}

// reorder16 returns the 2 payload bytes of a single register in
// canonical big-endian order for interpretation, applying a byte swap
// when order calls for the small-endian byte convention.
func reorder16(b []byte, order ByteWordOrder) []byte {
	if order == OrderSmallByteBigWord || order == OrderSmallByteSmallWord {
		return []byte{b[1], b[0]}
	}
	return []byte{b[0], b[1]}
}

// reorder32 returns the 4 payload bytes of a two-register value in
// canonical big-endian order for interpretation: it picks which
// register is the high word per the word-order half of order, then
// reorders each register's bytes per the byte-order half.
func reorder32(b []byte, order ByteWordOrder) []byte {
	reg0, reg1 := b[0:2], b[2:4]

	hiWord, loWord := reg0, reg1
	if order == OrderBigByteSmallWord || order == OrderSmallByteSmallWord {
		hiWord, loWord = reg1, reg0
	}

	swapBytes := order == OrderSmallByteBigWord || order == OrderSmallByteSmallWord
	orderReg := func(r []byte) [2]byte {
		if swapBytes {
			return [2]byte{r[1], r[0]}
		}
		return [2]byte{r[0], r[1]}
	}

	hi := orderReg(hiWord)
	lo := orderReg(loWord)
	return []byte{hi[0], hi[1], lo[0], lo[1]}
}

// applyScaling converts a raw decoded register value into its scaled
// measure value per entry's scaling mode.
func applyScaling(raw float64, s Scaling) float64 {
	switch s.Mode {
	case ScalingPointSlope:
		span := s.ValueMax - s.ValueMin
		if span == 0 {
			return s.TargetMin
		}
		ratio := (s.TargetMax - s.TargetMin) / span
		return round(ratio*(raw-s.ValueMin)+s.TargetMin, 0)
	default: // ScalingSlopeIntercept, and the zero value
		return round(s.Slope*raw+s.Offset, 2)
	}
}

func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
