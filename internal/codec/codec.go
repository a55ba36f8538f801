// Package codec implements the on-disk record format for cached values.
//
// Two encodings exist, selected by the value's declared kind at write
// time: a columnar encoding for tabular values and a generic binary
// encoding for everything else. Records are self-describing: a 4-byte
// magic identifies the encoding, followed by a SHA-256 checksum of the
// payload and the gzip-compressed payload itself. A record that fails
// the magic, checksum, or decompression step is reported as a decode
// failure, which the durable tier treats as a miss.
package codec

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/json"
	"io"

	"github.com/dscache/dscache/pkg/errors"
	"github.com/dscache/dscache/pkg/types"
)

// Record magics. Mirrors the parquet-style format sniffing used for
// tabular records: the first four bytes declare the encoding.
var (
	magicTable = []byte("DCT1")
	magicBlob  = []byte("DCB1")
)

const (
	magicLen    = 4
	checksumLen = sha256.Size
	headerLen   = magicLen + checksumLen
)

// Encode serializes a value into a self-describing record.
func Encode(v types.Value) ([]byte, error) {
	switch val := v.(type) {
	case *types.Table:
		if err := val.Validate(); err != nil {
			return nil, errors.New(errors.ErrCodeEncode, "invalid table").
				WithComponent("codec").WithOperation("encode").WithCause(err)
		}
		payload, err := json.Marshal(val)
		if err != nil {
			return nil, errors.New(errors.ErrCodeEncode, "table marshal failed").
				WithComponent("codec").WithOperation("encode").WithCause(err)
		}
		return seal(magicTable, payload)
	case types.Blob:
		return seal(magicBlob, val)
	default:
		return nil, errors.Newf(errors.ErrCodeEncode, "unsupported value kind %T", v).
			WithComponent("codec").WithOperation("encode")
	}
}

// Decode deserializes a record produced by Encode. The record's magic
// selects the decoder; kind information does not need to be tracked
// out of band.
func Decode(record []byte) (types.Value, error) {
	payload, magic, err := open(record)
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.Equal(magic, magicTable):
		var table types.Table
		if err := json.Unmarshal(payload, &table); err != nil {
			return nil, errors.New(errors.ErrCodeDecode, "table unmarshal failed").
				WithComponent("codec").WithOperation("decode").WithCause(err)
		}
		if err := table.Validate(); err != nil {
			return nil, errors.New(errors.ErrCodeDecode, "decoded table is inconsistent").
				WithComponent("codec").WithOperation("decode").WithCause(err)
		}
		return &table, nil
	case bytes.Equal(magic, magicBlob):
		return types.Blob(payload), nil
	default:
		return nil, errors.Newf(errors.ErrCodeDecode, "unknown record magic %q", magic).
			WithComponent("codec").WithOperation("decode")
	}
}

func seal(magic, payload []byte) ([]byte, error) {
	sum := sha256.Sum256(payload)

	var buf bytes.Buffer
	buf.Write(magic)
	buf.Write(sum[:])

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, errors.New(errors.ErrCodeEncode, "payload compression failed").
			WithComponent("codec").WithOperation("encode").WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.New(errors.ErrCodeEncode, "payload compression failed").
			WithComponent("codec").WithOperation("encode").WithCause(err)
	}
	return buf.Bytes(), nil
}

func open(record []byte) (payload, magic []byte, err error) {
	if len(record) < headerLen {
		return nil, nil, errors.New(errors.ErrCodeDecode, "record too short").
			WithComponent("codec").WithOperation("decode")
	}
	magic = record[:magicLen]
	want := record[magicLen:headerLen]

	zr, zerr := gzip.NewReader(bytes.NewReader(record[headerLen:]))
	if zerr != nil {
		return nil, nil, errors.New(errors.ErrCodeDecode, "record decompression failed").
			WithComponent("codec").WithOperation("decode").WithCause(zerr)
	}
	defer func() { _ = zr.Close() }()

	payload, zerr = io.ReadAll(zr)
	if zerr != nil {
		return nil, nil, errors.New(errors.ErrCodeDecode, "record decompression failed").
			WithComponent("codec").WithOperation("decode").WithCause(zerr)
	}

	sum := sha256.Sum256(payload)
	if !bytes.Equal(sum[:], want) {
		return nil, nil, errors.New(errors.ErrCodeDecode, "record checksum mismatch").
			WithComponent("codec").WithOperation("decode")
	}
	return payload, magic, nil
}
