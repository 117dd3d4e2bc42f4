package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/maildedup/codec"
)

// Snapshot blobs are self-describing: the envelope records the compression
// name and the body records the codec name, so a snapshot is always decoded
// with the algorithms it was written with, regardless of current config.
//
// Envelope layout (little endian):
//
//	magic      uint32
//	version    uint32
//	compLen    uint16, compression name bytes
//	bodyLen    uint64, compressed body bytes
//	checksum   uint32 over all preceding bytes
//
// Body layout (before compression):
//
//	codecLen   uint16, codec name bytes
//	dimension  uint32
//	nextID     uint64
//	entryCount uint64
//	per entry: recLen uint32, codec-encoded Record bytes

// Encode serializes a snapshot using the given codec and compressor.
func Encode(snap *Snapshot, c codec.Codec, comp Compressor) ([]byte, error) {
	body, err := encodeBody(snap, c)
	if err != nil {
		return nil, err
	}

	compressed, err := comp.Compress(body)
	if err != nil {
		return nil, fmt.Errorf("persistence: compress: %w", err)
	}

	var buf bytes.Buffer

	cw := NewChecksumWriter(&buf)

	writeU32(cw, MagicNumber)
	writeU32(cw, Version)
	if err := writeString(cw, comp.Name()); err != nil {
		return nil, err
	}
	writeU64(cw, uint64(len(compressed)))
	if _, err := cw.Write(compressed); err != nil {
		return nil, err
	}

	writeU32(&buf, cw.Sum())

	return buf.Bytes(), nil
}

// Decode deserializes a snapshot. The checksum is verified before any
// payload is interpreted.
func Decode(data []byte) (*Snapshot, error) {
	r := bytes.NewReader(data)
	cr := NewChecksumReader(r)

	magic, err := readU32(cr)
	if err != nil {
		return nil, &CorruptionError{Reason: "truncated header", Err: err}
	}
	if magic != MagicNumber {
		return nil, &CorruptionError{Reason: "bad magic", Err: ErrInvalidMagic}
	}

	version, err := readU32(cr)
	if err != nil {
		return nil, &CorruptionError{Reason: "truncated header", Err: err}
	}
	if version != Version {
		return nil, &CorruptionError{Reason: fmt.Sprintf("version 0x%08x", version), Err: ErrInvalidVersion}
	}

	compName, err := readString(cr)
	if err != nil {
		return nil, &CorruptionError{Reason: "compression name", Err: err}
	}

	bodyLen, err := readU64(cr)
	if err != nil {
		return nil, &CorruptionError{Reason: "body length", Err: err}
	}
	if bodyLen > uint64(r.Len()) {
		return nil, &CorruptionError{Reason: "body length exceeds blob size"}
	}

	compressed := make([]byte, bodyLen)
	if _, err := io.ReadFull(cr, compressed); err != nil {
		return nil, &CorruptionError{Reason: "truncated body", Err: err}
	}

	expected, err := readU32(r)
	if err != nil {
		return nil, &CorruptionError{Reason: "missing checksum", Err: err}
	}
	if err := cr.Verify(expected); err != nil {
		return nil, &CorruptionError{Reason: "checksum", Err: err}
	}

	comp, err := CompressorByName(compName)
	if err != nil {
		return nil, &CorruptionError{Reason: "compression", Err: err}
	}

	body, err := comp.Decompress(compressed)
	if err != nil {
		return nil, &CorruptionError{Reason: "decompress", Err: err}
	}

	return decodeBody(body)
}

func encodeBody(snap *Snapshot, c codec.Codec) ([]byte, error) {
	if snap.Dimension <= 0 || int64(snap.Dimension) > math.MaxUint32 {
		return nil, fmt.Errorf("persistence: invalid dimension %d", snap.Dimension)
	}

	var buf bytes.Buffer

	if err := writeString(&buf, c.Name()); err != nil {
		return nil, err
	}
	writeU32(&buf, uint32(snap.Dimension))
	writeU64(&buf, snap.NextID)
	writeU64(&buf, uint64(len(snap.Records)))

	for i := range snap.Records {
		encoded, err := c.Marshal(&snap.Records[i])
		if err != nil {
			return nil, fmt.Errorf("persistence: encode record %d: %w", snap.Records[i].ID, err)
		}
		writeU32(&buf, uint32(len(encoded)))
		buf.Write(encoded)
	}

	return buf.Bytes(), nil
}

func decodeBody(body []byte) (*Snapshot, error) {
	r := bytes.NewReader(body)

	codecName, err := readString(r)
	if err != nil {
		return nil, &CorruptionError{Reason: "codec name", Err: err}
	}

	c, ok := codec.ByName(codecName)
	if !ok {
		return nil, &CorruptionError{Reason: fmt.Sprintf("unknown codec %q", codecName)}
	}

	dimension, err := readU32(r)
	if err != nil {
		return nil, &CorruptionError{Reason: "dimension", Err: err}
	}
	nextID, err := readU64(r)
	if err != nil {
		return nil, &CorruptionError{Reason: "next id", Err: err}
	}
	entryCount, err := readU64(r)
	if err != nil {
		return nil, &CorruptionError{Reason: "entry count", Err: err}
	}
	// Each record occupies at least its 4-byte length prefix.
	if entryCount > uint64(r.Len())/4 {
		return nil, &CorruptionError{Reason: "entry count exceeds body size"}
	}

	snap := &Snapshot{
		Dimension: int(dimension),
		NextID:    nextID,
		Records:   make([]Record, 0, entryCount),
	}

	for i := uint64(0); i < entryCount; i++ {
		recLen, err := readU32(r)
		if err != nil {
			return nil, &CorruptionError{Reason: fmt.Sprintf("record %d length", i), Err: err}
		}
		if int(recLen) > r.Len() {
			return nil, &CorruptionError{Reason: fmt.Sprintf("record %d length exceeds body", i)}
		}

		encoded := make([]byte, recLen)
		if _, err := io.ReadFull(r, encoded); err != nil {
			return nil, &CorruptionError{Reason: fmt.Sprintf("record %d truncated", i), Err: err}
		}

		var rec Record
		if err := c.Unmarshal(encoded, &rec); err != nil {
			return nil, &CorruptionError{Reason: fmt.Sprintf("record %d", i), Err: err}
		}

		snap.Records = append(snap.Records, rec)
	}

	if r.Len() != 0 {
		return nil, &CorruptionError{Reason: "trailing bytes after last record"}
	}

	return snap, nil
}

// Writes below target bytes.Buffer or ChecksumWriter over one, which
// cannot fail, so errors are ignored.

func writeU32(w io.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, _ = w.Write(b[:])
}

func writeU64(w io.Writer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, _ = w.Write(b[:])
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("persistence: string too long: %d bytes", len(s))
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(s)))
	_, _ = w.Write(b[:])
	_, _ = io.WriteString(w, s)
	return nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r io.Reader) (string, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", err
	}
	buf := make([]byte, binary.LittleEndian.Uint16(b[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
