package jpegscan

import (
	"encoding/binary"
	"errors"
)

var (
	ErrInvalidMarker     = errors.New("invalid JPEG marker")
	ErrInvalidSOI        = errors.New("missing SOI marker")
	ErrInvalidSOF        = errors.New("invalid Start of Frame")
	ErrMissingSOF        = errors.New("no Start of Frame before scan data")
	ErrInvalidData       = errors.New("invalid JPEG data")
	ErrUnexpectedEOF     = errors.New("unexpected end of JPEG data")
	ErrInvalidDimensions = errors.New("invalid image dimensions")
)

// reader walks a JPEG byte slice segment by segment.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// readMarker reads the next marker, skipping fill bytes.
func (r *reader) readMarker() (uint16, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return 0, ErrInvalidMarker
	}
	for {
		b, err = r.readByte()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			break
		}
	}
	// 0x00 is a stuffed byte, not a marker
	if b == 0x00 {
		return 0, ErrInvalidMarker
	}
	return uint16(0xFF00) | uint16(b), nil
}

// readSegment returns the payload of a length-prefixed segment.
func (r *reader) readSegment() ([]byte, error) {
	length, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if length < 2 {
		return nil, ErrInvalidData
	}
	n := int(length) - 2
	if r.pos+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	seg := r.data[r.pos : r.pos+n]
	r.pos += n
	return seg, nil
}
