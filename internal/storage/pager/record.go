package pager

import (
	"encoding/binary"
	"math"
)

// ───────────────────────────────────────────────────────────────────────────
// Record codec
// ───────────────────────────────────────────────────────────────────────────
//
// A record is: header_len_varint || serial_type_varint* || column_body*.
// The header length varint covers itself plus every serial-type varint;
// column bodies follow in the same order, concatenated with no padding.
//
// Serial types:
//   0        NULL
//   1..6     signed integer, 1/2/3/4/6/8 bytes, big-endian
//   7        IEEE754 double, 8 bytes, big-endian
//   8        integer literal 0 (no body)
//   9        integer literal 1 (no body)
//   N>=12, N even   blob of (N-12)/2 bytes
//   N>=13, N odd    text of (N-13)/2 UTF-8 bytes

// ColumnKind tags the dynamic type of a decoded column value.
type ColumnKind byte

const (
	KindNull ColumnKind = iota
	KindInt64
	KindReal
	KindText
	KindBlob
)

// ColumnValue is a single decoded (or to-be-encoded) column. Text and
// Blob hold a byte slice that, on read, is a view borrowed from the
// page buffer the record was decoded from; callers that need to retain
// the value past the cursor's lifetime must copy it.
type ColumnValue struct {
	Kind  ColumnKind
	Int64 int64
	Real  float64
	Bytes []byte // Text or Blob payload
}

func NullValue() ColumnValue             { return ColumnValue{Kind: KindNull} }
func IntValue(v int64) ColumnValue       { return ColumnValue{Kind: KindInt64, Int64: v} }
func RealValue(v float64) ColumnValue    { return ColumnValue{Kind: KindReal, Real: v} }
func TextValue(v []byte) ColumnValue     { return ColumnValue{Kind: KindText, Bytes: v} }
func BlobValue(v []byte) ColumnValue     { return ColumnValue{Kind: KindBlob, Bytes: v} }
func TextValueS(v string) ColumnValue    { return ColumnValue{Kind: KindText, Bytes: []byte(v)} }
func (c ColumnValue) IsNull() bool       { return c.Kind == KindNull }
func (c ColumnValue) String() string     { return string(c.Bytes) }

// serialType returns the serial-type code and body length for v.
func serialType(v ColumnValue) (uint64, int) {
	switch v.Kind {
	case KindNull:
		return 0, 0
	case KindInt64:
		n := v.Int64
		switch {
		case n == 0:
			return 8, 0
		case n == 1:
			return 9, 0
		case n >= -1<<7 && n < 1<<7:
			return 1, 1
		case n >= -1<<15 && n < 1<<15:
			return 2, 2
		case n >= -1<<23 && n < 1<<23:
			return 3, 3
		case n >= -1<<31 && n < 1<<31:
			return 4, 4
		case n >= -1<<47 && n < 1<<47:
			return 5, 6
		default:
			return 6, 8
		}
	case KindReal:
		return 7, 8
	case KindBlob:
		n := len(v.Bytes)
		return uint64(n*2 + 12), n
	case KindText:
		n := len(v.Bytes)
		return uint64(n*2 + 13), n
	default:
		return 0, 0
	}
}

// EncodeRecord serializes an ordered list of column values into the
// concatenated header+body wire format described above.
func EncodeRecord(values []ColumnValue) []byte {
	serials := make([]uint64, len(values))
	bodyLens := make([]int, len(values))
	bodyLen := 0
	for i, v := range values {
		st, bl := serialType(v)
		serials[i] = st
		bodyLens[i] = bl
		bodyLen += bl
	}

	// The header length varint covers itself; since widening it can
	// push the header past a varint-width boundary, iterate to a fixed
	// point (at most a couple of rounds in practice).
	headerBodyLen := 0
	for _, st := range serials {
		headerBodyLen += VarintLen(st)
	}
	hdrLenVarintLen := VarintLen(uint64(headerBodyLen + 1))
	for {
		total := headerBodyLen + hdrLenVarintLen
		w := VarintLen(uint64(total))
		if w == hdrLenVarintLen {
			break
		}
		hdrLenVarintLen = w
	}
	headerLen := headerBodyLen + hdrLenVarintLen

	out := make([]byte, headerLen+bodyLen)
	off := PutVarint(out, uint64(headerLen))
	for _, st := range serials {
		off += PutVarint(out[off:], st)
	}
	for i, v := range values {
		switch v.Kind {
		case KindNull, KindInt64:
			if v.Kind == KindInt64 {
				writeIntBody(out[off:], v.Int64, bodyLens[i])
			}
		case KindReal:
			binary.BigEndian.PutUint64(out[off:off+8], math.Float64bits(v.Real))
		case KindText, KindBlob:
			copy(out[off:off+bodyLens[i]], v.Bytes)
		}
		off += bodyLens[i]
	}
	return out
}

func writeIntBody(dst []byte, v int64, n int) {
	if n == 0 {
		return // literal 0 or 1, no body
	}
	u := uint64(v)
	for i := 0; i < n; i++ {
		shift := uint(8 * (n - 1 - i))
		dst[i] = byte(u >> shift)
	}
}

func readIntBody(body []byte) int64 {
	n := len(body)
	var u uint64
	for i := 0; i < n; i++ {
		u = u<<8 | uint64(body[i])
	}
	// Sign-extend from n bytes to 64 bits.
	shift := uint(64 - 8*n)
	return int64(u<<shift) >> shift
}

// ReadSerialTypes parses only the record header, returning the serial
// type of each column and the byte offset at which column bodies begin
// (relative to the start of payload).
func ReadSerialTypes(payload []byte) (serials []uint64, bodyOffset int, err error) {
	if len(payload) == 0 {
		return nil, 0, &CorruptRecordError{Reason: "empty record payload"}
	}
	headerLen64, n := Varint(payload)
	if n == 0 {
		return nil, 0, &CorruptRecordError{Reason: "truncated header length varint"}
	}
	headerLen := int(headerLen64)
	if headerLen < n || headerLen > len(payload) {
		return nil, 0, &CorruptRecordError{Reason: "record header exceeds payload"}
	}
	off := n
	for off < headerLen {
		st, w := Varint(payload[off:headerLen])
		if w == 0 {
			return nil, 0, &CorruptRecordError{Reason: "truncated serial-type varint"}
		}
		serials = append(serials, st)
		off += w
	}
	return serials, headerLen, nil
}

// ColumnBodySize returns the number of body bytes a serial type occupies.
func ColumnBodySize(st uint64) int {
	switch {
	case st == 0, st == 8, st == 9:
		return 0
	case st >= 1 && st <= 4:
		return int(st)
	case st == 5:
		return 6
	case st == 6, st == 7:
		return 8
	case st >= 12 && st%2 == 0:
		return int((st - 12) / 2)
	case st >= 13:
		return int((st - 13) / 2)
	default:
		return 0
	}
}

// ComputeColumnOffsets walks serial types to produce the body offset of
// each column, relative to the start of payload.
func ComputeColumnOffsets(serials []uint64, bodyOffset int) []int {
	offs := make([]int, len(serials))
	off := bodyOffset
	for i, st := range serials {
		offs[i] = off
		off += ColumnBodySize(st)
	}
	return offs
}

// DecodeColumn extracts column i given its serial type and body offset.
// Text/Blob values borrow from payload.
func DecodeColumn(payload []byte, st uint64, off int) (ColumnValue, error) {
	size := ColumnBodySize(st)
	if off+size > len(payload) {
		return ColumnValue{}, &CorruptRecordError{Reason: "column body shorter than serial type implies"}
	}
	switch {
	case st == 0:
		return NullValue(), nil
	case st == 8:
		return IntValue(0), nil
	case st == 9:
		return IntValue(1), nil
	case st >= 1 && st <= 6:
		return IntValue(readIntBody(payload[off : off+size])), nil
	case st == 7:
		bits := binary.BigEndian.Uint64(payload[off : off+8])
		return RealValue(math.Float64frombits(bits)), nil
	case st >= 12 && st%2 == 0:
		return BlobValue(payload[off : off+size]), nil
	case st >= 13:
		return TextValue(payload[off : off+size]), nil
	default:
		return ColumnValue{}, &CorruptRecordError{Reason: "unknown serial type"}
	}
}

// DecodeInt64Direct extracts column i's integer value without
// constructing a ColumnValue, for callers (index key comparison,
// rowid-alias lookups) that already know the column's serial type and
// only need the scalar.
func DecodeInt64Direct(payload []byte, st uint64, off int) (int64, error) {
	switch {
	case st == 0:
		return 0, nil
	case st == 8:
		return 0, nil
	case st == 9:
		return 1, nil
	case st >= 1 && st <= 6:
		size := ColumnBodySize(st)
		if off+size > len(payload) {
			return 0, &CorruptRecordError{Reason: "column body shorter than serial type implies"}
		}
		return readIntBody(payload[off : off+size]), nil
	default:
		return 0, &CorruptRecordError{Reason: "column is not an integer"}
	}
}

// DecodeDoubleDirect extracts column i's float64 value without
// constructing a ColumnValue.
func DecodeDoubleDirect(payload []byte, st uint64, off int) (float64, error) {
	if st != 7 {
		return 0, &CorruptRecordError{Reason: "column is not a real"}
	}
	if off+8 > len(payload) {
		return 0, &CorruptRecordError{Reason: "column body shorter than serial type implies"}
	}
	bits := binary.BigEndian.Uint64(payload[off : off+8])
	return math.Float64frombits(bits), nil
}

// DecodeStringDirect extracts column i's text value as a string without
// constructing a ColumnValue. It allocates only the returned string,
// not the ColumnValue/Bytes wrapper DecodeColumn produces.
func DecodeStringDirect(payload []byte, st uint64, off int) (string, error) {
	if st < 13 {
		return "", &CorruptRecordError{Reason: "column is not text"}
	}
	size := ColumnBodySize(st)
	if off+size > len(payload) {
		return "", &CorruptRecordError{Reason: "column body shorter than serial type implies"}
	}
	return string(payload[off : off+size]), nil
}

// DecodeRecord decodes every column of payload in one pass.
func DecodeRecord(payload []byte) ([]ColumnValue, error) {
	serials, bodyOffset, err := ReadSerialTypes(payload)
	if err != nil {
		return nil, err
	}
	offs := ComputeColumnOffsets(serials, bodyOffset)
	out := make([]ColumnValue, len(serials))
	for i, st := range serials {
		v, err := DecodeColumn(payload, st, offs[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
