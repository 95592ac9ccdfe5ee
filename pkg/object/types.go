package object

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/lkjx77/GeoGig/pkg/status"
)

// IDSize is the length in bytes of an object id (SHA-256).
const IDSize = 32

// ID is the SHA-256 content hash of an object's canonical encoding.
type ID [IDSize]byte

// NullID is the zero id. As a ref value it means "no such ref".
var NullID ID

// ParseID decodes a 64-character hex string.
func ParseID(s string) (ID, error) {
	var id ID
	s = strings.TrimSpace(s)
	if len(s) != 2*IDSize {
		return id, status.Errorf(status.InvalidArgument, "invalid object id %q: want %d hex chars", s, 2*IDSize)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, status.Errorf(status.InvalidArgument, "invalid object id %q: %v", s, err)
	}
	return id, nil
}

// MustParseID is ParseID for constants in tests and fixtures.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first 8 hex characters, for display.
func (id ID) Short() string { return id.String()[:8] }

func (id ID) IsNull() bool { return id == NullID }

// Less orders ids bytewise.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// MarshalText lets ids appear as hex strings in JSON and TOML.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = NullID
		return nil
	}
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Type identifies the kind of object. The numeric values are the type codes
// written into every encoding.
type Type uint8

const (
	TypeCommit      Type = 0
	TypeTree        Type = 1
	TypeFeature     Type = 2
	TypeTag         Type = 3
	TypeFeatureType Type = 4
)

var typeNames = [...]string{
	TypeCommit:      "commit",
	TypeTree:        "tree",
	TypeFeature:     "feature",
	TypeTag:         "tag",
	TypeFeatureType: "featuretype",
}

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func (t Type) Valid() bool { return int(t) < len(typeNames) }

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, status.Errorf(status.InvalidArgument, "unknown object type %q", s)
}

// Object is implemented by every revision object variant.
type Object interface {
	Type() Type
}

// Person identifies an author, committer or tagger. Timestamp is in unix
// milliseconds; TimeZoneOffset is the local offset from UTC in milliseconds.
type Person struct {
	Name           string
	Email          string
	Timestamp      int64
	TimeZoneOffset int32
}

// Commit points at a root tree and its parent commits. The first parent is
// the mainline used for ancestor depth.
type Commit struct {
	Tree      ID
	Parents   []ID
	Author    Person
	Committer Person
	Message   string
}

func (*Commit) Type() Type { return TypeCommit }

// Envelope is the bounding box of a feature or subtree.
type Envelope struct {
	MinX, MaxX, MinY, MaxY float64
}

// TreeEntry is one named child of a tree. Type is TypeTree or TypeFeature.
// MetadataID optionally names the FeatureType describing the child.
type TreeEntry struct {
	Name       string
	Type       Type
	ID         ID
	MetadataID ID
	Bounds     *Envelope
}

// Tree holds child entries sorted by name. Size is the number of features
// reachable below the tree.
type Tree struct {
	Size    uint64
	Entries []TreeEntry
}

func (*Tree) Type() Type { return TypeTree }

// NewTree returns a tree with entries sorted by name.
func NewTree(size uint64, entries ...TreeEntry) *Tree {
	t := &Tree{Size: size, Entries: append([]TreeEntry(nil), entries...)}
	sortEntries(t.Entries)
	return t
}

func sortEntries(entries []TreeEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// Entry looks up a child by name.
func (t *Tree) Entry(name string) (TreeEntry, bool) {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Name >= name })
	if i < len(t.Entries) && t.Entries[i].Name == name {
		return t.Entries[i], true
	}
	return TreeEntry{}, false
}

// Feature is an ordered list of attribute values. See FieldType for the
// supported value types.
type Feature struct {
	Values []any
}

func (*Feature) Type() Type { return TypeFeature }

// AttributeDescriptor describes one position of a feature's value list.
type AttributeDescriptor struct {
	Name     string
	Binding  FieldType
	Nullable bool
	CRS      string // only meaningful for geometry attributes
}

// FeatureType is the schema shared by the features of a layer.
type FeatureType struct {
	Name       string
	Attributes []AttributeDescriptor
}

func (*FeatureType) Type() Type { return TypeFeatureType }

// Tag is an annotated tag pointing at a commit.
type Tag struct {
	Name    string
	Commit  ID
	Message string
	Tagger  Person
}

func (*Tag) Type() Type { return TypeTag }

// References returns the ids an object links to, in encoding order.
func References(obj Object) []ID {
	switch o := obj.(type) {
	case *Commit:
		refs := make([]ID, 0, 1+len(o.Parents))
		refs = append(refs, o.Tree)
		return append(refs, o.Parents...)
	case *Tree:
		refs := make([]ID, 0, len(o.Entries)*2)
		for _, e := range o.Entries {
			refs = append(refs, e.ID)
			if !e.MetadataID.IsNull() {
				refs = append(refs, e.MetadataID)
			}
		}
		return refs
	case *Tag:
		return []ID{o.Commit}
	}
	return nil
}

// UniqueIDs drops null and duplicate ids, preserving first-seen order.
func UniqueIDs(in []ID) []ID {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[ID]struct{}, len(in))
	out := make([]ID, 0, len(in))
	for _, id := range in {
		if id.IsNull() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
