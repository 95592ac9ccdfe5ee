package remote

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

func sampleRecords(t *testing.T) []object.Record {
	t.Helper()
	f, err := object.NewFeature("main street", int32(2), &object.Geometry{SRID: 4326, WKB: []byte{1, 2, 3}})
	require.NoError(t, err)
	objs := []object.Object{
		f,
		&object.FeatureType{Name: "roads", Attributes: []object.AttributeDescriptor{{Name: "name", Binding: object.FieldString}}},
		object.NewTree(1, object.TreeEntry{Name: "f.1", Type: object.TypeFeature, ID: object.MustID(f)}),
	}
	recs := make([]object.Record, 0, len(objs))
	for _, obj := range objs {
		rec, err := object.NewRecord(obj)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func TestObjectStreamRoundTrip(t *testing.T) {
	recs := sampleRecords(t)
	data, err := EncodeObjectStream(recs)
	require.NoError(t, err)

	got, err := DecodeObjectStream(data)
	require.NoError(t, err)
	assert.Equal(t, recs, got)
}

func TestObjectStreamEmpty(t *testing.T) {
	data, err := EncodeObjectStream(nil)
	require.NoError(t, err)
	got, err := DecodeObjectStream(data)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestObjectStreamRejectsHashMismatch(t *testing.T) {
	recs := sampleRecords(t)
	recs[1].ID = recs[0].ID
	data, err := EncodeObjectStream(recs)
	require.NoError(t, err)

	_, err = DecodeObjectStream(data)
	assert.Equal(t, status.MalformedObject, status.Of(err))
}

func TestObjectStreamRejectsTruncation(t *testing.T) {
	recs := sampleRecords(t)
	var raw bytes.Buffer
	for _, rec := range recs[:1] {
		raw.Write(rec.ID[:])
		raw.WriteByte(byte(len(rec.Data)))
		raw.Write(rec.Data)
	}
	whole := raw.Bytes()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	for _, cut := range []int{10, object.IDSize, object.IDSize + 1, len(whole) - 1} {
		_, err := DecodeObjectStream(enc.EncodeAll(whole[:cut], nil))
		assert.Equal(t, status.MalformedObject, status.Of(err), "cut at %d", cut)
	}
	got, err := DecodeObjectStream(enc.EncodeAll(whole, nil))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestObjectStreamRejectsGarbage(t *testing.T) {
	_, err := DecodeObjectStream([]byte("definitely not zstd"))
	assert.Equal(t, status.MalformedObject, status.Of(err))
}
