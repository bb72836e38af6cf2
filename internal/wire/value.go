package wire

// ValueTag is the tag of the value encoding (spec section 4.2). It is
// distinct from the frame Kind in frame.go — a Value tag describes the
// shape of one encoded value inside a frame's payload.
type ValueTag uint8

const (
	TagNull ValueTag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagBytes
	TagSeq
	TagMap
	TagRecord
)

// MapEntry is one key/value pair of an ordered mapping. Order is
// significant only insofar as it is preserved across an encode/decode
// round trip; lookups are by key via Map.Get.
type MapEntry struct {
	Key   string
	Value Value
}

// Map is an ordered string-keyed mapping of Values, used both as the
// top-level "mapping" value kind and as the field list of a Record.
type Map []MapEntry

// Get returns the value for key and whether it was present.
func (m Map) Get(key string) (Value, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Set appends or replaces the entry for key, preserving the position of an
// existing entry.
func (m Map) Set(key string, v Value) Map {
	for i, e := range m {
		if e.Key == key {
			m[i].Value = v
			return m
		}
	}
	return append(m, MapEntry{Key: key, Value: v})
}

// Record is a user-defined, flat, field-name-addressed value: a type name
// plus an ordered mapping of fields.
type Record struct {
	TypeName string
	Fields   Map
}

// Value is the tagged union carried by CALL/REPLY/ITEM/etc. payloads. Only
// the field matching Tag is meaningful; the zero Value is Null.
type Value struct {
	Tag    ValueTag
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Bytes  []byte
	Seq    []Value
	Map    Map
	Record *Record
}

func Null() Value                  { return Value{Tag: TagNull} }
func BoolValue(b bool) Value       { return Value{Tag: TagBool, Bool: b} }
func IntValue(i int64) Value       { return Value{Tag: TagInt, Int: i} }
func FloatValue(f float64) Value   { return Value{Tag: TagFloat, Float: f} }
func StringValue(s string) Value   { return Value{Tag: TagString, Str: s} }
func BytesValue(b []byte) Value    { return Value{Tag: TagBytes, Bytes: b} }
func SeqValue(vs []Value) Value    { return Value{Tag: TagSeq, Seq: vs} }
func MapValue(m Map) Value         { return Value{Tag: TagMap, Map: m} }
func RecordValue(r *Record) Value  { return Value{Tag: TagRecord, Record: r} }

// NewRecord builds a record value from a type name and field list.
func NewRecord(typeName string, fields Map) Value {
	return RecordValue(&Record{TypeName: typeName, Fields: fields})
}

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Tag == TagNull }
