package object

import (
	"github.com/lkjx77/GeoGig/pkg/status"
)

// Record is an encoded object as it travels between stores and over the
// wire. Data may be in any supported format version.
type Record struct {
	ID   ID
	Type Type
	Data []byte
}

// NewRecord encodes obj in the current format.
func NewRecord(obj Object) (Record, error) {
	data, err := Encode(obj)
	if err != nil {
		return Record{}, err
	}
	id, err := IDOf(obj)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Type: obj.Type(), Data: data}, nil
}

// Decode decodes the record's data and checks the declared type.
func (r Record) Decode() (Object, error) {
	return DecodeAs(r.Data, r.Type)
}

// VerifyRecord decodes rec and recomputes its id. Records received from a
// peer must pass this before they are written anywhere.
func VerifyRecord(rec Record) (Object, error) {
	obj, err := Decode(rec.Data)
	if err != nil {
		return nil, err
	}
	if obj.Type() != rec.Type {
		return nil, status.Errorf(status.MalformedObject, "object %s: declared type %s, data is %s", rec.ID, rec.Type, obj.Type())
	}
	id, err := IDOf(obj)
	if err != nil {
		return nil, err
	}
	if id != rec.ID {
		return nil, status.WithDetails(status.MalformedObject, "hash mismatch", map[string]string{
			"expected": rec.ID.String(),
			"computed": id.String(),
		})
	}
	return obj, nil
}

// RecordSize is the approximate wire size of a record, used for batching.
func RecordSize(rec Record) int {
	return IDSize + 10 + len(rec.Data)
}
