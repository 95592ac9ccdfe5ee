package object

import (
	"sort"
	"time"
	"unicode/utf8"
)

// v2Serializer is the canonical format. Lengths and counts are uvarints,
// integers are zig-zag varints and floats are big-endian IEEE-754 bits.
type v2Serializer struct{}

func (v2Serializer) encodeBody(obj Object) ([]byte, error) {
	e := &encoder{}
	switch o := obj.(type) {
	case *Commit:
		e.id(o.Tree)
		e.uvarint(uint64(len(o.Parents)))
		for _, p := range o.Parents {
			e.id(p)
		}
		v2PutPerson(e, o.Author)
		v2PutPerson(e, o.Committer)
		v2PutString(e, o.Message)
	case *Tree:
		entries, err := sortedTreeEntries(o.Entries)
		if err != nil {
			return nil, err
		}
		e.uvarint(o.Size)
		e.uvarint(uint64(len(entries)))
		for _, te := range entries {
			v2PutString(e, te.Name)
			e.u8(byte(te.Type))
			e.id(te.ID)
			e.id(te.MetadataID)
			e.bool(te.Bounds != nil)
			if te.Bounds != nil {
				e.f64(te.Bounds.MinX)
				e.f64(te.Bounds.MaxX)
				e.f64(te.Bounds.MinY)
				e.f64(te.Bounds.MaxY)
			}
		}
	case *Feature:
		e.uvarint(uint64(len(o.Values)))
		for i, v := range o.Values {
			if !v2PutValue(e, v, 0) {
				e.fail("feature value %d: unsupported type %T", i, v)
			}
		}
	case *FeatureType:
		v2PutString(e, o.Name)
		e.uvarint(uint64(len(o.Attributes)))
		for _, a := range o.Attributes {
			if !a.Binding.Valid() {
				e.fail("attribute %q: unknown binding %d", a.Name, a.Binding)
			}
			v2PutString(e, a.Name)
			e.u8(byte(a.Binding))
			e.bool(a.Nullable)
			v2PutString(e, a.CRS)
		}
	case *Tag:
		v2PutString(e, o.Name)
		e.id(o.Commit)
		v2PutString(e, o.Message)
		v2PutPerson(e, o.Tagger)
	default:
		e.fail("unsupported object %T", obj)
	}
	return e.result()
}

func (v2Serializer) decodeBody(t Type, body []byte) (Object, error) {
	d := &decoder{data: body}
	switch t {
	case TypeCommit:
		c := &Commit{Tree: d.id()}
		if n := d.count(d.uvarint(), IDSize); n > 0 {
			c.Parents = make([]ID, n)
			for i := range c.Parents {
				c.Parents[i] = d.id()
			}
		}
		c.Author = v2GetPerson(d)
		c.Committer = v2GetPerson(d)
		c.Message = v2GetString(d)
		return d.finish(c)
	case TypeTree:
		tr := &Tree{Size: d.uvarint()}
		if n := d.count(d.uvarint(), 2+2*IDSize+1); n > 0 {
			tr.Entries = make([]TreeEntry, n)
			for i := range tr.Entries {
				te := &tr.Entries[i]
				te.Name = v2GetString(d)
				te.Type = Type(d.u8())
				te.ID = d.id()
				te.MetadataID = d.id()
				if d.bool() {
					te.Bounds = &Envelope{MinX: d.f64(), MaxX: d.f64(), MinY: d.f64(), MaxY: d.f64()}
				}
				if d.err == nil {
					if err := checkEntryType(te.Type); err != nil {
						return nil, err
					}
				}
			}
			if d.err == nil {
				if err := checkTreeOrder(tr.Entries); err != nil {
					return nil, err
				}
			}
		}
		return d.finish(tr)
	case TypeFeature:
		f := &Feature{}
		if n := d.count(d.uvarint(), 1); n > 0 {
			f.Values = make([]any, n)
			for i := range f.Values {
				f.Values[i] = v2GetValue(d, 0)
			}
		}
		return d.finish(f)
	case TypeFeatureType:
		ft := &FeatureType{Name: v2GetString(d)}
		if n := d.count(d.uvarint(), 4); n > 0 {
			ft.Attributes = make([]AttributeDescriptor, n)
			for i := range ft.Attributes {
				a := &ft.Attributes[i]
				a.Name = v2GetString(d)
				a.Binding = FieldType(d.u8())
				a.Nullable = d.bool()
				a.CRS = v2GetString(d)
				if d.err == nil && !a.Binding.Valid() {
					d.fail("attribute %q: unknown binding %d", a.Name, a.Binding)
				}
			}
		}
		return d.finish(ft)
	case TypeTag:
		tag := &Tag{Name: v2GetString(d), Commit: d.id()}
		tag.Message = v2GetString(d)
		tag.Tagger = v2GetPerson(d)
		return d.finish(tag)
	}
	d.fail("unsupported type %s", t)
	return d.finish(nil)
}

func v2PutString(e *encoder, s string) {
	if !utf8.ValidString(s) {
		e.fail("invalid utf-8 string %q", s)
		return
	}
	e.uvarint(uint64(len(s)))
	e.raw([]byte(s))
}

func v2GetString(d *decoder) string {
	b := d.bytes(d.uvarint())
	if d.err == nil && !utf8.Valid(b) {
		d.fail("invalid utf-8 string")
	}
	return string(b)
}

func v2PutPerson(e *encoder, p Person) {
	v2PutString(e, p.Name)
	v2PutString(e, p.Email)
	e.varint(p.Timestamp)
	e.varint(int64(p.TimeZoneOffset))
}

func v2GetPerson(d *decoder) Person {
	p := Person{Name: v2GetString(d), Email: v2GetString(d)}
	p.Timestamp = d.varint()
	p.TimeZoneOffset = int32(d.varint())
	return p
}

// v2PutValue writes a tagged value and reports whether its type is supported.
func v2PutValue(e *encoder, v any, depth int) bool {
	if depth > maxValueDepth {
		e.fail("value nesting deeper than %d", maxValueDepth)
		return true
	}
	ft, ok := FieldTypeOf(v)
	if !ok {
		return false
	}
	e.u8(byte(ft))
	switch x := v.(type) {
	case nil:
	case bool:
		e.bool(x)
	case int8:
		e.u8(byte(x))
	case int16:
		e.varint(int64(x))
	case int32:
		e.varint(int64(x))
	case int64:
		e.varint(x)
	case float32:
		e.f32(x)
	case float64:
		e.f64(x)
	case string:
		v2PutString(e, x)
	case []byte:
		e.uvarint(uint64(len(x)))
		e.raw(x)
	case time.Time:
		e.varint(x.UnixMilli())
	case Geometry:
		e.varint(int64(x.SRID))
		e.uvarint(uint64(len(x.WKB)))
		e.raw(x.WKB)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.uvarint(uint64(len(keys)))
		for _, k := range keys {
			v2PutString(e, k)
			if !v2PutValue(e, x[k], depth+1) {
				e.fail("map key %q: unsupported type %T", k, x[k])
			}
		}
	}
	return true
}

func v2GetValue(d *decoder, depth int) any {
	if depth > maxValueDepth {
		d.fail("value nesting deeper than %d", maxValueDepth)
		return nil
	}
	switch ft := FieldType(d.u8()); ft {
	case FieldNull:
		return nil
	case FieldBool:
		return d.bool()
	case FieldInt8:
		return int8(d.u8())
	case FieldInt16:
		return int16(d.varint())
	case FieldInt32:
		return int32(d.varint())
	case FieldInt64:
		return d.varint()
	case FieldFloat32:
		return d.f32()
	case FieldFloat64:
		return d.f64()
	case FieldString:
		return v2GetString(d)
	case FieldBytes:
		return d.bytes(d.uvarint())
	case FieldDateTime:
		return time.UnixMilli(d.varint()).UTC()
	case FieldGeometry:
		g := Geometry{SRID: int32(d.varint())}
		g.WKB = d.bytes(d.uvarint())
		return g
	case FieldMap:
		n := d.count(d.uvarint(), 2)
		m := make(map[string]any, n)
		prev := ""
		for i := 0; i < n && d.err == nil; i++ {
			k := v2GetString(d)
			if i > 0 && k <= prev {
				d.fail("map keys not strictly sorted at %q", k)
			}
			prev = k
			m[k] = v2GetValue(d, depth+1)
		}
		return m
	default:
		d.fail("unknown field type %d", ft)
		return nil
	}
}
