package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serialises v into the tag-prefixed binary encoding described in
// spec section 4.2 and appends it to buf, returning the extended slice.
func Encode(buf []byte, v Value) ([]byte, error) {
	switch v.Tag {
	case TagNull:
		return append(buf, byte(TagNull)), nil

	case TagBool:
		buf = append(buf, byte(TagBool))
		if v.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil

	case TagInt:
		buf = append(buf, byte(TagInt))
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.Int))
		return append(buf, tmp[:]...), nil

	case TagFloat:
		buf = append(buf, byte(TagFloat))
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.Float))
		return append(buf, tmp[:]...), nil

	case TagString:
		buf = append(buf, byte(TagString))
		return appendLengthPrefixed(buf, []byte(v.Str)), nil

	case TagBytes:
		buf = append(buf, byte(TagBytes))
		return appendLengthPrefixed(buf, v.Bytes), nil

	case TagSeq:
		buf = append(buf, byte(TagSeq))
		buf = appendUint32(buf, uint32(len(v.Seq)))
		var err error
		for _, elem := range v.Seq {
			buf, err = Encode(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil

	case TagMap:
		buf = append(buf, byte(TagMap))
		return encodeMap(buf, v.Map)

	case TagRecord:
		if v.Record == nil {
			return nil, NewError(ErrEncoding, "record value has nil Record")
		}
		buf = append(buf, byte(TagRecord))
		buf = appendLengthPrefixed(buf, []byte(v.Record.TypeName))
		return encodeMap(buf, v.Record.Fields)

	default:
		return nil, NewError(ErrEncoding, fmt.Sprintf("unknown value tag %d", v.Tag))
	}
}

func encodeMap(buf []byte, m Map) ([]byte, error) {
	buf = appendUint32(buf, uint32(len(m)))
	var err error
	for _, entry := range m {
		buf = appendLengthPrefixed(buf, []byte(entry.Key))
		buf, err = Encode(buf, entry.Value)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendUint32(buf []byte, n uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendLengthPrefixed(buf []byte, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// Decode reads one tag-prefixed value from buf, returning the value and
// the number of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, NewError(ErrEncoding, "empty buffer, expected value tag")
	}
	tag := ValueTag(buf[0])
	rest := buf[1:]

	switch tag {
	case TagNull:
		return Null(), 1, nil

	case TagBool:
		if len(rest) < 1 {
			return Value{}, 0, NewError(ErrEncoding, "truncated bool value")
		}
		return BoolValue(rest[0] != 0), 2, nil

	case TagInt:
		if len(rest) < 8 {
			return Value{}, 0, NewError(ErrEncoding, "truncated int value")
		}
		n := int64(binary.BigEndian.Uint64(rest[:8]))
		return IntValue(n), 1 + 8, nil

	case TagFloat:
		if len(rest) < 8 {
			return Value{}, 0, NewError(ErrEncoding, "truncated float value")
		}
		bits := binary.BigEndian.Uint64(rest[:8])
		return FloatValue(math.Float64frombits(bits)), 1 + 8, nil

	case TagString:
		data, n, err := readLengthPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return StringValue(string(data)), 1 + n, nil

	case TagBytes:
		data, n, err := readLengthPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		// Copy so the returned Value does not alias the caller's buffer.
		cp := make([]byte, len(data))
		copy(cp, data)
		return BytesValue(cp), 1 + n, nil

	case TagSeq:
		if len(rest) < 4 {
			return Value{}, 0, NewError(ErrEncoding, "truncated sequence count")
		}
		count := binary.BigEndian.Uint32(rest[:4])
		// Every element takes at least one byte, so a larger count is
		// truncated input; checking first keeps a bogus count from
		// driving the allocation below.
		if uint64(count) > uint64(len(rest)-4) {
			return Value{}, 0, NewError(ErrEncoding, "truncated sequence")
		}
		offset := 4
		seq := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			elem, n, err := Decode(rest[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			seq = append(seq, elem)
			offset += n
		}
		return SeqValue(seq), 1 + offset, nil

	case TagMap:
		m, n, err := decodeMap(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return MapValue(m), 1 + n, nil

	case TagRecord:
		typeName, n, err := readLengthPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		offset := n
		m, n2, err := decodeMap(rest[offset:])
		if err != nil {
			return Value{}, 0, err
		}
		offset += n2
		return RecordValue(&Record{TypeName: string(typeName), Fields: m}), 1 + offset, nil

	default:
		return Value{}, 0, NewError(ErrEncoding, fmt.Sprintf("unknown value tag %d", tag))
	}
}

func decodeMap(buf []byte) (Map, int, error) {
	if len(buf) < 4 {
		return nil, 0, NewError(ErrEncoding, "truncated mapping count")
	}
	count := binary.BigEndian.Uint32(buf[:4])
	if uint64(count) > uint64(len(buf)-4) {
		return nil, 0, NewError(ErrEncoding, "truncated mapping")
	}
	offset := 4
	m := make(Map, 0, count)
	for i := uint32(0); i < count; i++ {
		key, n, err := readLengthPrefixed(buf[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		val, n2, err := Decode(buf[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n2
		m = append(m, MapEntry{Key: string(key), Value: val})
	}
	return m, offset, nil
}

func readLengthPrefixed(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, NewError(ErrEncoding, "truncated length prefix")
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if uint64(len(buf)-4) < uint64(length) {
		return nil, 0, NewError(ErrEncoding, "truncated length-prefixed data")
	}
	return buf[4 : 4+length], 4 + int(length), nil
}

// EncodeValue is a convenience wrapper around Encode that allocates a
// fresh buffer.
func EncodeValue(v Value) ([]byte, error) {
	return Encode(nil, v)
}

// DecodeValue decodes exactly one value from buf and reports an error if
// trailing bytes remain, for callers that expect buf to hold a single
// top-level value (e.g. a frame payload).
func DecodeValue(buf []byte) (Value, error) {
	v, n, err := Decode(buf)
	if err != nil {
		return Value{}, err
	}
	if n != len(buf) {
		return Value{}, NewError(ErrEncoding, fmt.Sprintf("%d trailing bytes after value", len(buf)-n))
	}
	return v, nil
}
