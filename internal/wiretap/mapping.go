package wiretap

// ScalingMode names one of the two measure-scaling formulas a template
// entry may specify.
type ScalingMode string

const (
	ScalingSlopeIntercept ScalingMode = "slope_intercept"
	ScalingPointSlope     ScalingMode = "point_slope"
)

// Scaling holds the parameters for whichever ScalingMode a template
// entry uses. Only the fields relevant to Mode are meaningful.
type Scaling struct {
	Mode ScalingMode

	// slope_intercept
	Slope  float64
	Offset float64

	// point_slope
	ValueMin, ValueMax   float64
	TargetMin, TargetMax float64
}

// DataType names the wire representation a template entry decodes its
// register window as.
type DataType string

const (
	DataInt16     DataType = "int16"
	DataUint16    DataType = "uint16"
	DataInt32     DataType = "int32"
	DataUint32    DataType = "uint32"
	DataFloat32   DataType = "float32"
	DataBitpacked DataType = "bitpacked16"
)

// ByteWordOrder names one of the four byte/word reordering permutations
// a register-valued template entry may specify.
type ByteWordOrder string

const (
	OrderBigByteBigWord     ByteWordOrder = "bigByte_bigWord"
	OrderBigByteSmallWord   ByteWordOrder = "bigByte_smallWord"
	OrderSmallByteBigWord   ByteWordOrder = "smallByte_bigWord"
	OrderSmallByteSmallWord ByteWordOrder = "smallByte_smallWord"
)

func validByteWordOrder(o ByteWordOrder) bool {
	switch o {
	case OrderBigByteBigWord, OrderBigByteSmallWord, OrderSmallByteBigWord, OrderSmallByteSmallWord:
		return true
	}
	return false
}

// TemplateEntry is one measure definition within a device template:
// where to find it in a response payload, how to interpret the bytes,
// and how to scale the result. See SPEC_FULL.md §3/§4.4.
type TemplateEntry struct {
	MeasureName string
	Address     uint16
	Quantity    uint16
	DataType    DataType
	Order       ByteWordOrder
	Scaling     Scaling
	// Bit is the bit index tested for DataBitpacked entries.
	Bit int
}

// SlaveMapping is what a tapped (port, slave) pair decodes to: the
// device's DAQ name and the set of measures its templates define.
type SlaveMapping struct {
	DeviceDAQ string
	Templates []TemplateEntry
}

// Mapping is the full port -> slave -> device mapping published by the
// Controller whenever site_devices.json or the template JSON changes.
// It is immutable once built; reload works by building a new Mapping
// and swapping an atomic.Pointer[Mapping], never mutating one in place.
type Mapping struct {
	ports map[string]map[byte]SlaveMapping
}

// NewMapping wraps a port->slave->mapping table. A nil table yields an
// empty, always-miss Mapping.
func NewMapping(ports map[string]map[byte]SlaveMapping) *Mapping {
	if ports == nil {
		ports = make(map[string]map[byte]SlaveMapping)
	}
	return &Mapping{ports: ports}
}

// Lookup returns the SlaveMapping for (port, slave), if one exists.
func (m *Mapping) Lookup(port string, slave byte) (SlaveMapping, bool) {
	if m == nil {
		return SlaveMapping{}, false
	}
	slaves, ok := m.ports[port]
	if !ok {
		return SlaveMapping{}, false
	}
	sm, ok := slaves[slave]
	return sm, ok
}
