package wire

import (
	"fmt"
	"reflect"
)

// structTag is the struct tag HTCP reads to find a field's wire name,
// mirroring the way the teacher's config structs use `yaml:"..."` tags
// (cellorg/internal/config/config.go) to drive struct-field <-> text-key
// binding. Unlike yaml.v3 or encoding/json, HTCP has no outside format to
// be compatible with, so the tag key is just "htcp".
const structTag = "htcp"

// EncodeGo converts an arbitrary Go value into a wire.Value. It is the
// generalised counterpart of the teacher's json.Marshal-based message
// bodies: structs become records, slices/arrays become sequences, maps
// become mappings, and []byte becomes the bytes tag rather than a base64
// string the way encoding/json would render it.
//
// A Value passed in is returned unchanged, so handlers that already build
// their result as a wire.Value do not pay a reflection round trip.
func EncodeGo(goValue interface{}) (Value, error) {
	if goValue == nil {
		return Null(), nil
	}
	if v, ok := goValue.(Value); ok {
		return v, nil
	}
	if v, ok := goValue.(*Value); ok {
		if v == nil {
			return Null(), nil
		}
		return *v, nil
	}
	return encodeReflect(reflect.ValueOf(goValue))
}

var valueType = reflect.TypeOf(Value{})

func encodeReflect(rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return Null(), nil
	}

	// A nested wire.Value (e.g. an element of a []wire.Value result) is
	// passed through untouched, same as the top-level EncodeGo check.
	if rv.Type() == valueType {
		return rv.Interface().(Value), nil
	}

	// []byte is a sequence of uint8 but must become TagBytes, not TagSeq.
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return BytesValue(b), nil
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return encodeReflect(rv.Elem())

	case reflect.Bool:
		return BoolValue(rv.Bool()), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntValue(rv.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return IntValue(int64(rv.Uint())), nil

	case reflect.Float32, reflect.Float64:
		return FloatValue(rv.Float()), nil

	case reflect.String:
		return StringValue(rv.String()), nil

	case reflect.Slice, reflect.Array:
		seq := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := encodeReflect(rv.Index(i))
			if err != nil {
				return Value{}, err
			}
			seq[i] = elem
		}
		return SeqValue(seq), nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, NewError(ErrEncoding, "map keys must be strings")
		}
		m := make(Map, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			val, err := encodeReflect(iter.Value())
			if err != nil {
				return Value{}, err
			}
			m = append(m, MapEntry{Key: iter.Key().String(), Value: val})
		}
		return MapValue(m), nil

	case reflect.Struct:
		fields, err := encodeStructFields(rv)
		if err != nil {
			return Value{}, err
		}
		return NewRecord(rv.Type().Name(), fields), nil

	default:
		return Value{}, NewError(ErrEncoding, fmt.Sprintf("cannot encode Go kind %s", rv.Kind()))
	}
}

func encodeStructFields(rv reflect.Value) (Map, error) {
	t := rv.Type()
	fields := make(Map, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		name, omit := fieldName(sf)
		if omit {
			continue
		}
		val, err := encodeReflect(rv.Field(i))
		if err != nil {
			return nil, err
		}
		fields = append(fields, MapEntry{Key: name, Value: val})
	}
	return fields, nil
}

// fieldName resolves the wire name for a struct field, consulting the
// `htcp` tag first and falling back to the field name unchanged.
func fieldName(sf reflect.StructField) (name string, skip bool) {
	tag := sf.Tag.Get(structTag)
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		return tag, false
	}
	return sf.Name, false
}

// DecodeGo populates target (a non-nil pointer) from v, binding record
// fields by name the way spec section 4.2 requires: for each declared
// struct field, the decoder looks up the mapping entry of the same name,
// recursing into the field's type; unknown entries are ignored; a missing
// entry for a field with no Go zero-value fallback is left at its zero
// value rather than erroring, since Go structs always have one (the
// "missing non-defaulted entry fails" rule from spec 4.2 is enforced one
// layer up, in internal/registry's argument binder, which runs before a
// wire Value ever reaches DecodeGo).
func DecodeGo(v Value, target interface{}) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("wire: DecodeGo target must be a non-nil pointer, got %T", target)
	}
	return decodeReflect(v, rv.Elem())
}

func decodeReflect(v Value, rv reflect.Value) error {
	// A field typed wire.Value accepts the value verbatim, untyped.
	if rv.Type() == valueType {
		rv.Set(reflect.ValueOf(v))
		return nil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if v.IsNull() {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return decodeReflect(v, rv.Elem())

	case reflect.Interface:
		// Decode into a generic representation for interface{} fields.
		rv.Set(reflect.ValueOf(toGeneric(v)))
		return nil

	case reflect.Bool:
		if v.Tag != TagBool {
			return NewError(ErrEncoding, "expected bool value")
		}
		rv.SetBool(v.Bool)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Tag != TagInt {
			return NewError(ErrEncoding, "expected int value")
		}
		rv.SetInt(v.Int)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v.Tag != TagInt {
			return NewError(ErrEncoding, "expected int value")
		}
		rv.SetUint(uint64(v.Int))
		return nil

	case reflect.Float32, reflect.Float64:
		if v.Tag != TagFloat {
			return NewError(ErrEncoding, "expected float value")
		}
		rv.SetFloat(v.Float)
		return nil

	case reflect.String:
		if v.Tag != TagString {
			return NewError(ErrEncoding, "expected string value")
		}
		rv.SetString(v.Str)
		return nil

	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if v.Tag != TagBytes {
				return NewError(ErrEncoding, "expected bytes value")
			}
			b := make([]byte, len(v.Bytes))
			copy(b, v.Bytes)
			rv.SetBytes(b)
			return nil
		}
		if v.Tag != TagSeq {
			return NewError(ErrEncoding, "expected sequence value")
		}
		out := reflect.MakeSlice(rv.Type(), len(v.Seq), len(v.Seq))
		for i, elem := range v.Seq {
			if err := decodeReflect(elem, out.Index(i)); err != nil {
				return err
			}
		}
		rv.Set(out)
		return nil

	case reflect.Array:
		if v.Tag != TagSeq {
			return NewError(ErrEncoding, "expected sequence value")
		}
		if len(v.Seq) != rv.Len() {
			return NewError(ErrEncoding, fmt.Sprintf("expected %d elements, got %d", rv.Len(), len(v.Seq)))
		}
		for i, elem := range v.Seq {
			if err := decodeReflect(elem, rv.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		if v.Tag != TagMap && v.Tag != TagRecord {
			return NewError(ErrEncoding, "expected mapping value")
		}
		entries := v.Map
		if v.Tag == TagRecord {
			entries = v.Record.Fields
		}
		out := reflect.MakeMapWithSize(rv.Type(), len(entries))
		for _, entry := range entries {
			elem := reflect.New(rv.Type().Elem()).Elem()
			if err := decodeReflect(entry.Value, elem); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(entry.Key), elem)
		}
		rv.Set(out)
		return nil

	case reflect.Struct:
		var fields Map
		switch v.Tag {
		case TagRecord:
			fields = v.Record.Fields
		case TagMap:
			fields = v.Map
		default:
			return NewError(ErrEncoding, "expected record or mapping value for struct target")
		}
		return decodeStructFields(fields, rv)

	default:
		return NewError(ErrEncoding, fmt.Sprintf("cannot decode into Go kind %s", rv.Kind()))
	}
}

func decodeStructFields(fields Map, rv reflect.Value) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		name, skip := fieldName(sf)
		if skip {
			continue
		}
		val, ok := fields.Get(name)
		if !ok {
			continue // missing entries are left at zero value
		}
		if err := decodeReflect(val, rv.Field(i)); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// toGeneric renders a Value as a generic interface{} tree (bool, int64,
// float64, string, []byte, []interface{}, map[string]interface{}, or a
// *Record for values the caller didn't ask to bind into a concrete type).
func toGeneric(v Value) interface{} {
	switch v.Tag {
	case TagNull:
		return nil
	case TagBool:
		return v.Bool
	case TagInt:
		return v.Int
	case TagFloat:
		return v.Float
	case TagString:
		return v.Str
	case TagBytes:
		return v.Bytes
	case TagSeq:
		out := make([]interface{}, len(v.Seq))
		for i, e := range v.Seq {
			out[i] = toGeneric(e)
		}
		return out
	case TagMap:
		out := make(map[string]interface{}, len(v.Map))
		for _, e := range v.Map {
			out[e.Key] = toGeneric(e.Value)
		}
		return out
	case TagRecord:
		return v.Record
	default:
		return nil
	}
}
