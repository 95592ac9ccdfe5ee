package object

import (
	"math"
	"unicode/utf8"
)

// v1Serializer reads and writes the legacy fixed-width format: uint16
// string lengths, uint32 counts and byte lengths, int64 timestamps. It has
// no time zone offsets, tree bounds or CRS strings and a smaller set of
// feature value types.
type v1Serializer struct{}

func (v1Serializer) encodeBody(obj Object) ([]byte, error) {
	e := &encoder{}
	switch o := obj.(type) {
	case *Commit:
		e.id(o.Tree)
		v1PutCount(e, len(o.Parents))
		for _, p := range o.Parents {
			e.id(p)
		}
		v1PutPerson(e, o.Author)
		v1PutPerson(e, o.Committer)
		v1PutString(e, o.Message)
	case *Tree:
		entries, err := sortedTreeEntries(o.Entries)
		if err != nil {
			return nil, err
		}
		e.u64(o.Size)
		v1PutCount(e, len(entries))
		for _, te := range entries {
			if te.Bounds != nil {
				e.fail("tree entry %q: bounds not representable in v1", te.Name)
			}
			v1PutString(e, te.Name)
			e.u8(byte(te.Type))
			e.id(te.ID)
			e.id(te.MetadataID)
		}
	case *Feature:
		v1PutCount(e, len(o.Values))
		for i, v := range o.Values {
			if !v1PutValue(e, v) {
				e.fail("feature value %d: type %T not representable in v1", i, v)
			}
		}
	case *FeatureType:
		v1PutString(e, o.Name)
		v1PutCount(e, len(o.Attributes))
		for _, a := range o.Attributes {
			if a.CRS != "" {
				e.fail("attribute %q: crs not representable in v1", a.Name)
			}
			if !v1Field(a.Binding) {
				e.fail("attribute %q: binding %s not representable in v1", a.Name, a.Binding)
			}
			v1PutString(e, a.Name)
			e.u8(byte(a.Binding))
			e.bool(a.Nullable)
		}
	case *Tag:
		v1PutString(e, o.Name)
		e.id(o.Commit)
		v1PutString(e, o.Message)
		v1PutPerson(e, o.Tagger)
	default:
		e.fail("unsupported object %T", obj)
	}
	return e.result()
}

func (v1Serializer) decodeBody(t Type, body []byte) (Object, error) {
	d := &decoder{data: body}
	switch t {
	case TypeCommit:
		c := &Commit{Tree: d.id()}
		if n := d.count(uint64(d.u32()), IDSize); n > 0 {
			c.Parents = make([]ID, n)
			for i := range c.Parents {
				c.Parents[i] = d.id()
			}
		}
		c.Author = v1GetPerson(d)
		c.Committer = v1GetPerson(d)
		c.Message = v1GetString(d)
		return d.finish(c)
	case TypeTree:
		tr := &Tree{Size: d.u64()}
		if n := d.count(uint64(d.u32()), 3+2*IDSize); n > 0 {
			tr.Entries = make([]TreeEntry, n)
			for i := range tr.Entries {
				te := &tr.Entries[i]
				te.Name = v1GetString(d)
				te.Type = Type(d.u8())
				te.ID = d.id()
				te.MetadataID = d.id()
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
		if n := d.count(uint64(d.u32()), 1); n > 0 {
			f.Values = make([]any, n)
			for i := range f.Values {
				f.Values[i] = v1GetValue(d)
			}
		}
		return d.finish(f)
	case TypeFeatureType:
		ft := &FeatureType{Name: v1GetString(d)}
		if n := d.count(uint64(d.u32()), 4); n > 0 {
			ft.Attributes = make([]AttributeDescriptor, n)
			for i := range ft.Attributes {
				a := &ft.Attributes[i]
				a.Name = v1GetString(d)
				a.Binding = FieldType(d.u8())
				a.Nullable = d.bool()
				if d.err == nil && !v1Field(a.Binding) {
					d.fail("attribute %q: unknown v1 binding %d", a.Name, a.Binding)
				}
			}
		}
		return d.finish(ft)
	case TypeTag:
		tag := &Tag{Name: v1GetString(d), Commit: d.id()}
		tag.Message = v1GetString(d)
		tag.Tagger = v1GetPerson(d)
		return d.finish(tag)
	}
	d.fail("unsupported type %s", t)
	return d.finish(nil)
}

func v1Field(ft FieldType) bool {
	switch ft {
	case FieldNull, FieldBool, FieldInt32, FieldInt64, FieldFloat64, FieldString, FieldBytes, FieldGeometry:
		return true
	}
	return false
}

func v1PutCount(e *encoder, n int) {
	if uint64(n) > math.MaxUint32 {
		e.fail("count %d too large for v1", n)
		return
	}
	e.u32(uint32(n))
}

func v1PutString(e *encoder, s string) {
	if !utf8.ValidString(s) {
		e.fail("invalid utf-8 string %q", s)
		return
	}
	if len(s) > math.MaxUint16 {
		e.fail("string of %d bytes too long for v1", len(s))
		return
	}
	e.u16(uint16(len(s)))
	e.raw([]byte(s))
}

func v1GetString(d *decoder) string {
	b := d.bytes(uint64(d.u16()))
	if d.err == nil && !utf8.Valid(b) {
		d.fail("invalid utf-8 string")
	}
	return string(b)
}

func v1PutPerson(e *encoder, p Person) {
	if p.TimeZoneOffset != 0 {
		e.fail("time zone offset not representable in v1")
	}
	v1PutString(e, p.Name)
	v1PutString(e, p.Email)
	e.u64(uint64(p.Timestamp))
}

func v1GetPerson(d *decoder) Person {
	p := Person{Name: v1GetString(d), Email: v1GetString(d)}
	p.Timestamp = int64(d.u64())
	return p
}

func v1PutValue(e *encoder, v any) bool {
	ft, ok := FieldTypeOf(v)
	if !ok || !v1Field(ft) {
		return false
	}
	e.u8(byte(ft))
	switch x := v.(type) {
	case bool:
		e.bool(x)
	case int32:
		e.u32(uint32(x))
	case int64:
		e.u64(uint64(x))
	case float64:
		e.f64(x)
	case string:
		v1PutString(e, x)
	case []byte:
		v1PutCount(e, len(x))
		e.raw(x)
	case Geometry:
		e.u32(uint32(x.SRID))
		v1PutCount(e, len(x.WKB))
		e.raw(x.WKB)
	}
	return true
}

func v1GetValue(d *decoder) any {
	switch ft := FieldType(d.u8()); ft {
	case FieldNull:
		return nil
	case FieldBool:
		return d.bool()
	case FieldInt32:
		return int32(d.u32())
	case FieldInt64:
		return int64(d.u64())
	case FieldFloat64:
		return d.f64()
	case FieldString:
		return v1GetString(d)
	case FieldBytes:
		return d.bytes(uint64(d.u32()))
	case FieldGeometry:
		g := Geometry{SRID: int32(d.u32())}
		g.WKB = d.bytes(uint64(d.u32()))
		return g
	default:
		d.fail("unknown v1 field type %d", ft)
		return nil
	}
}
