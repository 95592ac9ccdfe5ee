package object

import (
	"crypto/sha256"
	"fmt"
)

// HashObject computes the SHA-256 of the envelope "type len\0body",
// mirroring Git's object hashing but with SHA-256.
func HashObject(t Type, body []byte) ID {
	h := sha256.New()
	fmt.Fprintf(h, "%s %d\x00", t, len(body))
	h.Write(body)
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// IDOf returns the id of obj. The id is always derived from the current
// canonical body, so an object decoded from a legacy encoding keeps the id
// it has under the current format.
func IDOf(obj Object) (ID, error) {
	body, err := canonical.encodeBody(obj)
	if err != nil {
		return NullID, err
	}
	return HashObject(obj.Type(), body), nil
}

// MustID is IDOf for objects known to be encodable.
func MustID(obj Object) ID {
	id, err := IDOf(obj)
	if err != nil {
		panic(err)
	}
	return id
}
