package object

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/status"
)

var (
	testAuthor = Person{Name: "Ada", Email: "ada@example.com", Timestamp: 1700000000123, TimeZoneOffset: 3600000}
	testUTC    = Person{Name: "Bob", Email: "bob@example.com", Timestamp: 1700000000999}
)

func fixtureID(b byte) ID {
	var id ID
	for i := range id {
		id[i] = b
	}
	return id
}

func sampleObjects(t *testing.T) map[string]Object {
	t.Helper()
	feature, err := NewFeature(
		nil, true, int8(-3), int16(1200), int32(-70000), int64(1)<<40,
		float32(1.5), 3.25, "road", []byte{0, 1, 2},
		time.Date(2024, 3, 1, 12, 30, 0, 456_000_000, time.UTC),
		Geometry{SRID: 4326, WKB: []byte{1, 1, 0, 0, 0}},
		map[string]any{"z": int32(1), "a": "x", "nested": map[string]any{"k": false}},
	)
	require.NoError(t, err)

	bounds := &Envelope{MinX: -1, MaxX: 1, MinY: -2.5, MaxY: 2.5}
	return map[string]Object{
		"commit": &Commit{
			Tree:      fixtureID(1),
			Parents:   []ID{fixtureID(2), fixtureID(3)},
			Author:    testAuthor,
			Committer: testUTC,
			Message:   "import roads\n\nsecond paragraph",
		},
		"root commit": &Commit{Tree: fixtureID(1), Author: testUTC, Committer: testUTC, Message: "init"},
		"tree": NewTree(7,
			TreeEntry{Name: "roads", Type: TypeTree, ID: fixtureID(4), MetadataID: fixtureID(5), Bounds: bounds},
			TreeEntry{Name: "buildings", Type: TypeTree, ID: fixtureID(6)},
			TreeEntry{Name: "f.1", Type: TypeFeature, ID: fixtureID(7)},
		),
		"empty tree": &Tree{},
		"feature":    feature,
		"feature type": &FeatureType{Name: "roads", Attributes: []AttributeDescriptor{
			{Name: "geom", Binding: FieldGeometry, CRS: "EPSG:4326"},
			{Name: "name", Binding: FieldString, Nullable: true},
		}},
		"tag": &Tag{Name: "v1.0", Commit: fixtureID(8), Message: "release", Tagger: testAuthor},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for name, obj := range sampleObjects(t) {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(obj)
			require.NoError(t, err)
			assert.Equal(t, FormatV2, data[0])
			assert.Equal(t, byte(obj.Type()), data[1])

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, obj, got)

			again, err := Encode(got)
			require.NoError(t, err)
			assert.Equal(t, data, again, "encoding must be deterministic")
			assert.Equal(t, MustID(obj), MustID(got))
		})
	}
}

func TestContentAddressing(t *testing.T) {
	a := &Commit{Tree: fixtureID(1), Author: testUTC, Committer: testUTC, Message: "same"}
	b := &Commit{Tree: fixtureID(1), Author: testUTC, Committer: testUTC, Message: "same"}
	assert.Equal(t, MustID(a), MustID(b))

	c := &Commit{Tree: fixtureID(1), Author: testUTC, Committer: testUTC, Message: "same."}
	assert.NotEqual(t, MustID(a), MustID(c))

	d := *a
	d.Committer.Timestamp++
	assert.NotEqual(t, MustID(a), MustID(&d))
}

func TestTreeEntryOrderDoesNotChangeID(t *testing.T) {
	e1 := TreeEntry{Name: "a", Type: TypeFeature, ID: fixtureID(1)}
	e2 := TreeEntry{Name: "b", Type: TypeFeature, ID: fixtureID(2)}
	sorted := &Tree{Size: 2, Entries: []TreeEntry{e1, e2}}
	reversed := &Tree{Size: 2, Entries: []TreeEntry{e2, e1}}
	assert.Equal(t, MustID(sorted), MustID(reversed))

	data, err := Encode(reversed)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sorted, got)
}

func TestMapKeyOrderIsCanonical(t *testing.T) {
	f1 := &Feature{Values: []any{map[string]any{"a": int32(1), "b": int32(2), "c": int32(3)}}}
	f2 := &Feature{Values: []any{map[string]any{"c": int32(3), "a": int32(1), "b": int32(2)}}}
	d1, err := Encode(f1)
	require.NoError(t, err)
	d2, err := Encode(f2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestDuplicateTreeEntryRejected(t *testing.T) {
	tree := &Tree{Entries: []TreeEntry{
		{Name: "a", Type: TypeFeature, ID: fixtureID(1)},
		{Name: "a", Type: TypeFeature, ID: fixtureID(2)},
	}}
	_, err := Encode(tree)
	assert.True(t, status.Is(err, status.MalformedObject), "got %v", err)
}

func TestUnsupportedFeatureValue(t *testing.T) {
	_, err := Encode(&Feature{Values: []any{struct{}{}}})
	assert.True(t, status.Is(err, status.MalformedObject))

	_, err = NewFeature(complex(1, 2))
	assert.True(t, status.Is(err, status.MalformedObject))
}

func TestNewFeatureNormalizes(t *testing.T) {
	local := time.Date(2024, 1, 2, 3, 4, 5, 6_789_000, time.FixedZone("X", 7200))
	f, err := NewFeature(42, []byte(nil), local)
	require.NoError(t, err)
	assert.Equal(t, int64(42), f.Values[0])
	assert.Equal(t, []byte{}, f.Values[1])
	assert.Equal(t, time.UnixMilli(local.UnixMilli()).UTC(), f.Values[2])

	data, err := Encode(f)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestInvalidUTF8RejectedOnEncode(t *testing.T) {
	bad := "bad \xff byte"
	objs := map[string]Object{
		"commit message": &Commit{Tree: fixtureID(1), Author: testUTC, Committer: testUTC, Message: bad},
		"author name":    &Commit{Tree: fixtureID(1), Author: Person{Name: bad}, Committer: testUTC},
		"tree entry":     NewTree(1, TreeEntry{Name: bad, Type: TypeFeature, ID: fixtureID(2)}),
		"feature value":  &Feature{Values: []any{bad}},
		"map key":        &Feature{Values: []any{map[string]any{bad: int64(1)}}},
		"attribute":      &FeatureType{Name: "roads", Attributes: []AttributeDescriptor{{Name: bad, Binding: FieldString}}},
		"tag":            &Tag{Name: "v1", Commit: fixtureID(3), Message: bad, Tagger: testUTC},
	}
	store := NewLooseStore(memfs.New())
	for name, obj := range objs {
		t.Run(name, func(t *testing.T) {
			for _, v := range []byte{FormatV1, FormatV2} {
				_, err := EncodeVersion(obj, v)
				assert.Equal(t, status.MalformedObject, status.Of(err), "format v%d", v)
			}
			_, err := IDOf(obj)
			assert.Equal(t, status.MalformedObject, status.Of(err))
			_, err = store.Put(obj)
			assert.Equal(t, status.MalformedObject, status.Of(err))
		})
	}
	n := 0
	require.NoError(t, store.Each(func(ID) error { n++; return nil }))
	assert.Zero(t, n, "nothing unreadable was stored")
}

func TestEmptyCollectionsShareCanonicalForm(t *testing.T) {
	empty, err := NewFeature()
	require.NoError(t, err)
	assert.Nil(t, empty.Values)

	literal := &Feature{Values: []any{}}
	a, err := Encode(empty)
	require.NoError(t, err)
	b, err := Encode(literal)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	back, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, empty, back)

	root := &Commit{Tree: fixtureID(1), Parents: []ID{}, Author: testUTC, Committer: testUTC, Message: "root"}
	data, err := Encode(root)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, got.(*Commit).Parents)
	assert.Equal(t, MustID(root), MustID(got))

	tree := NewTree(0)
	data, err = Encode(tree)
	require.NoError(t, err)
	got, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, tree, got)

	f, err := NewFeature([]byte(nil), Geometry{SRID: 4326}, map[string]any(nil))
	require.NoError(t, err)
	data, err = Encode(f)
	require.NoError(t, err)
	got, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestLegacyV1DecodesToSameObject(t *testing.T) {
	objs := map[string]Object{
		"commit": &Commit{Tree: fixtureID(1), Parents: []ID{fixtureID(2)}, Author: testUTC, Committer: testUTC, Message: "legacy"},
		"tree": NewTree(2,
			TreeEntry{Name: "a", Type: TypeFeature, ID: fixtureID(3)},
			TreeEntry{Name: "b", Type: TypeTree, ID: fixtureID(4), MetadataID: fixtureID(5)},
		),
		"feature": &Feature{Values: []any{nil, true, int32(7), int64(-9), 2.5, "s", []byte{9}, Geometry{SRID: 3857, WKB: []byte{1}}}},
		"feature type": &FeatureType{Name: "pts", Attributes: []AttributeDescriptor{{Name: "n", Binding: FieldInt32}}},
		"tag":          &Tag{Name: "t", Commit: fixtureID(9), Message: "m", Tagger: testUTC},
	}
	for name, obj := range objs {
		t.Run(name, func(t *testing.T) {
			v1, err := EncodeVersion(obj, FormatV1)
			require.NoError(t, err)
			assert.Equal(t, FormatV1, v1[0])

			v2, err := Encode(obj)
			require.NoError(t, err)
			assert.NotEqual(t, v1, v2)

			got, err := Decode(v1)
			require.NoError(t, err)
			assert.Equal(t, obj, got)
			assert.Equal(t, MustID(obj), MustID(got))
		})
	}
}

func TestV1RejectsUnrepresentable(t *testing.T) {
	cases := map[string]Object{
		"tz offset": &Commit{Tree: fixtureID(1), Author: testAuthor, Committer: testUTC},
		"bounds":    NewTree(1, TreeEntry{Name: "a", Type: TypeTree, ID: fixtureID(1), Bounds: &Envelope{}}),
		"int16":     &Feature{Values: []any{int16(1)}},
		"map":       &Feature{Values: []any{map[string]any{}}},
		"crs":       &FeatureType{Name: "x", Attributes: []AttributeDescriptor{{Name: "g", Binding: FieldGeometry, CRS: "EPSG:4326"}}},
	}
	for name, obj := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := EncodeVersion(obj, FormatV1)
			assert.True(t, status.Is(err, status.MalformedObject), "got %v", err)
		})
	}
}

func TestDecodeTruncatedInput(t *testing.T) {
	for name, obj := range sampleObjects(t) {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(obj)
			require.NoError(t, err)
			for n := 0; n < len(data); n++ {
				_, err := Decode(data[:n])
				require.Error(t, err, "prefix of %d bytes decoded", n)
				assert.Equal(t, status.MalformedObject, status.Of(err), "prefix %d: %v", n, err)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(&Tag{Name: "x", Commit: fixtureID(1), Tagger: testUTC})
	require.NoError(t, err)

	unsorted := &encoder{}
	unsorted.uvarint(0)
	unsorted.uvarint(2)
	for _, name := range []string{"b", "a"} {
		v2PutString(unsorted, name)
		unsorted.u8(byte(TypeFeature))
		unsorted.id(fixtureID(1))
		unsorted.id(NullID)
		unsorted.bool(false)
	}
	unsortedBody, err := unsorted.result()
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":            nil,
		"unknown version":  append([]byte{9}, valid[1:]...),
		"unknown type":     {FormatV2, 42},
		"trailing bytes":   append(append([]byte{}, valid...), 0),
		"huge count":       append(append([]byte{FormatV2, byte(TypeCommit)}, make([]byte, IDSize)...), 0xff, 0xff, 0xff, 0xff, 0x0f),
		"unsorted entries": append([]byte{FormatV2, byte(TypeTree)}, unsortedBody...),
		"bad field type":   {FormatV2, byte(TypeFeature), 1, 99},
		"bad bool":         {FormatV2, byte(TypeFeature), 1, byte(FieldBool), 7},
		"bad entry type":   append([]byte{FormatV2, byte(TypeTree), 0, 1, 1, 'a', byte(TypeCommit)}, make([]byte, 2*IDSize+1)...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.Error(t, err)
			assert.Equal(t, status.MalformedObject, status.Of(err), "%v", err)
		})
	}
}

func TestDecodeAsChecksType(t *testing.T) {
	data, err := Encode(&Feature{})
	require.NoError(t, err)
	_, err = DecodeAs(data, TypeCommit)
	assert.True(t, status.Is(err, status.MalformedObject))

	obj, err := DecodeAs(data, TypeFeature)
	require.NoError(t, err)
	assert.Equal(t, TypeFeature, obj.Type())
}

func TestVerifyRecord(t *testing.T) {
	rec, err := NewRecord(&Tag{Name: "x", Commit: fixtureID(1), Tagger: testUTC})
	require.NoError(t, err)
	_, err = VerifyRecord(rec)
	require.NoError(t, err)

	bad := rec
	bad.ID = fixtureID(0xaa)
	_, err = VerifyRecord(bad)
	assert.True(t, status.Is(err, status.MalformedObject))
	assert.Equal(t, rec.ID.String(), status.Details(err)["computed"])

	wrongType := rec
	wrongType.Type = TypeCommit
	_, err = VerifyRecord(wrongType)
	assert.True(t, status.Is(err, status.MalformedObject))
}

func TestParseID(t *testing.T) {
	id := MustID(&Tree{})
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Len(t, id.Short(), 8)

	_, err = ParseID("abc")
	assert.True(t, status.Is(err, status.InvalidArgument))
	_, err = ParseID(string(make([]byte, 64)))
	assert.True(t, status.Is(err, status.InvalidArgument))

	text, err := id.MarshalText()
	require.NoError(t, err)
	var back ID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func TestReferences(t *testing.T) {
	objs := sampleObjects(t)
	assert.Equal(t, []ID{fixtureID(1), fixtureID(2), fixtureID(3)}, References(objs["commit"]))
	assert.Equal(t, []ID{fixtureID(6), fixtureID(7), fixtureID(4), fixtureID(5)}, References(objs["tree"]))
	assert.Equal(t, []ID{fixtureID(8)}, References(objs["tag"]))
	assert.Empty(t, References(objs["feature"]))
}
