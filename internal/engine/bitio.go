package engine

import (
	"encoding/binary"
	"math"
)

// byteWriter appends header fields to a slice.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *byteWriter) uvarint(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }

func (w *byteWriter) f32(v float32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *byteWriter) bytes(b []byte) {
	w.uvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// byteReader reads header fields from a slice that may still be incomplete.
// Every read returns errShort when the slice ends early, so a caller can
// retry the whole unit once more input has arrived.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) u8() (uint8, error) {
	if r.pos >= len(r.buf) {
		return 0, errShort
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n == 0 {
		return 0, errShort
	}
	if n < 0 {
		return 0, newError(CodeBadInput, "read", errVarintOverflow)
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) uvarint32() (uint32, error) {
	v, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, newError(CodeBadInput, "read", errVarintOverflow)
	}
	return uint32(v), nil
}

func (r *byteReader) f32() (float32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errShort
	}
	v := math.Float32frombits(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, newError(CodeBadInput, "read", errVarintOverflow)
	}
	if r.pos+n > len(r.buf) {
		return nil, errShort
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) bytes(limit int) ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(limit) {
		return nil, newError(CodeBadInput, "read", errFieldTooLarge)
	}
	return r.take(int(n))
}
