package remote

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// maxStreamObject bounds a single encoded object in an object stream.
const maxStreamObject = 64 << 20

// WriteObjectStream writes records as a zstd-compressed sequence of
// [32-byte id][uvarint length][encoded object] frames.
func WriteObjectStream(w io.Writer, recs []object.Record) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)
	var hdr [binary.MaxVarintLen64]byte
	for _, rec := range recs {
		bw.Write(rec.ID[:])
		n := binary.PutUvarint(hdr[:], uint64(len(rec.Data)))
		bw.Write(hdr[:n])
		if _, err := bw.Write(rec.Data); err != nil {
			enc.Close()
			return fmt.Errorf("write object %s: %w", rec.ID.Short(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// EncodeObjectStream is a convenience wrapper around WriteObjectStream.
func EncodeObjectStream(recs []object.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteObjectStream(&buf, recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadObjectStream decodes an object stream. Every record is verified
// against its id; a record that fails, or a stream cut mid-frame, is
// MALFORMED_OBJECT.
func ReadObjectStream(r io.Reader) ([]object.Record, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, status.Errorf(status.MalformedObject, "object stream: %v", err)
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	var recs []object.Record
	for {
		var id object.ID
		if _, err := io.ReadFull(br, id[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return recs, nil
			}
			return nil, status.Errorf(status.MalformedObject, "object stream: read id: %v", err)
		}
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, status.Errorf(status.MalformedObject, "object stream: read length of %s: %v", id.Short(), err)
		}
		if n > maxStreamObject {
			return nil, status.Errorf(status.MalformedObject, "object stream: object %s too large (%d bytes)", id.Short(), n)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, status.Errorf(status.MalformedObject, "object stream: read object %s: %v", id.Short(), err)
		}
		t, err := object.PeekType(data)
		if err != nil {
			return nil, fmt.Errorf("object stream: %s: %w", id.Short(), err)
		}
		rec := object.Record{ID: id, Type: t, Data: data}
		if _, err := object.VerifyRecord(rec); err != nil {
			return nil, fmt.Errorf("object stream: %w", err)
		}
		recs = append(recs, rec)
	}
}

// DecodeObjectStream is a convenience wrapper around ReadObjectStream.
func DecodeObjectStream(data []byte) ([]object.Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return ReadObjectStream(bytes.NewReader(data))
}
