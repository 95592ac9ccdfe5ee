package object

import (
	"fmt"
	"time"

	"github.com/lkjx77/GeoGig/pkg/status"
)

// FieldType tags the dynamic type of a feature value. The numeric values are
// written into encodings.
type FieldType uint8

const (
	FieldNull FieldType = iota
	FieldBool
	FieldInt8
	FieldInt16
	FieldInt32
	FieldInt64
	FieldFloat32
	FieldFloat64
	FieldString
	FieldBytes
	FieldDateTime
	FieldGeometry
	FieldMap
)

var fieldTypeNames = [...]string{
	"null", "bool", "int8", "int16", "int32", "int64", "float32", "float64",
	"string", "bytes", "datetime", "geometry", "map",
}

func (f FieldType) String() string {
	if int(f) < len(fieldTypeNames) {
		return fieldTypeNames[f]
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

func (f FieldType) Valid() bool { return int(f) < len(fieldTypeNames) }

// Geometry is a geometry value in well-known binary with its spatial
// reference id.
type Geometry struct {
	SRID int32
	WKB  []byte
}

// maxValueDepth bounds nesting of map values on both encode and decode.
const maxValueDepth = 32

// FieldTypeOf reports the field type of a value accepted by the codec.
func FieldTypeOf(v any) (FieldType, bool) {
	switch v.(type) {
	case nil:
		return FieldNull, true
	case bool:
		return FieldBool, true
	case int8:
		return FieldInt8, true
	case int16:
		return FieldInt16, true
	case int32:
		return FieldInt32, true
	case int64:
		return FieldInt64, true
	case float32:
		return FieldFloat32, true
	case float64:
		return FieldFloat64, true
	case string:
		return FieldString, true
	case []byte:
		return FieldBytes, true
	case time.Time:
		return FieldDateTime, true
	case Geometry:
		return FieldGeometry, true
	case map[string]any:
		return FieldMap, true
	}
	return 0, false
}

// NewFeature builds a feature from Go values, normalizing them to the forms
// the codec decodes to: int becomes int64, times are truncated to
// milliseconds in UTC and nil byte slices become empty ones. A feature with
// no values has nil Values.
func NewFeature(values ...any) (*Feature, error) {
	if len(values) == 0 {
		return &Feature{}, nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		n, err := normalizeValue(v, 0)
		if err != nil {
			return nil, fmt.Errorf("feature value %d: %w", i, err)
		}
		out[i] = n
	}
	return &Feature{Values: out}, nil
}

func normalizeValue(v any, depth int) (any, error) {
	if depth > maxValueDepth {
		return nil, status.Errorf(status.MalformedObject, "value nesting deeper than %d", maxValueDepth)
	}
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case []byte:
		if x == nil {
			return []byte{}, nil
		}
		return x, nil
	case time.Time:
		return time.UnixMilli(x.UnixMilli()).UTC(), nil
	case *Geometry:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case Geometry:
		if x.WKB == nil {
			x.WKB = []byte{}
		}
		return x, nil
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			n, err := normalizeValue(e, depth+1)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = n
		}
		return m, nil
	}
	if _, ok := FieldTypeOf(v); !ok {
		return nil, status.Errorf(status.MalformedObject, "unsupported feature value type %T", v)
	}
	return v, nil
}
