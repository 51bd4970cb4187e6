package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Box type codes used by the container.
var (
	TypeSignature  = BoxType{'J', 'X', 'L', ' '}
	TypeFileType   = BoxType{'f', 't', 'y', 'p'}
	TypeCodestream = BoxType{'j', 'x', 'l', 'c'}
	TypePartial    = BoxType{'j', 'x', 'l', 'p'}
	TypeJPEGRecon  = BoxType{'j', 'b', 'r', 'd'}
	TypeBrotli     = BoxType{'b', 'r', 'o', 'b'}
	TypeExif       = BoxType{'E', 'x', 'i', 'f'}
	TypeXML        = BoxType{'x', 'm', 'l', ' '}
	TypeJUMBF      = BoxType{'j', 'u', 'm', 'b'}
)

var containerSignature = []byte{0x00, 0x00, 0x00, 0x0C, 'J', 'X', 'L', ' ', 0x0D, 0x0A, 0x87, 0x0A}

// maxBoxSize bounds a buffered (non-codestream) box.
const maxBoxSize = 1 << 28

// partialLast marks the final jxlp box in its 4-byte index.
const partialLast = 0x80000000

var (
	errBoxSize  = errors.New("invalid box size")
	errBoxOrder = errors.New("unexpected box order")
)

// Signature classifies the first bytes of a stream.
type Signature int

const (
	SignatureNotEnoughBytes Signature = iota
	SignatureInvalid
	SignatureCodestream
	SignatureContainer
)

// CheckSignature inspects the start of data.
func CheckSignature(data []byte) Signature {
	if len(data) == 0 {
		return SignatureNotEnoughBytes
	}
	if data[0] == codestreamSignature[0] {
		if len(data) < 2 {
			return SignatureNotEnoughBytes
		}
		if data[1] == codestreamSignature[1] {
			return SignatureCodestream
		}
		return SignatureInvalid
	}
	n := min(len(data), len(containerSignature))
	if !bytes.Equal(data[:n], containerSignature[:n]) {
		return SignatureInvalid
	}
	if n < len(containerSignature) {
		return SignatureNotEnoughBytes
	}
	return SignatureContainer
}

// appendBox writes a box with the smallest header that fits.
func appendBox(dst []byte, t BoxType, contents []byte) []byte {
	size := uint64(len(contents)) + 8
	if size > 0xFFFFFFFF {
		dst = binary.BigEndian.AppendUint32(dst, 1)
		dst = append(dst, t[:]...)
		dst = binary.BigEndian.AppendUint64(dst, size+8)
	} else {
		dst = binary.BigEndian.AppendUint32(dst, uint32(size))
		dst = append(dst, t[:]...)
	}
	return append(dst, contents...)
}

// fileTypeContents is the body of the ftyp box.
func fileTypeContents() []byte {
	b := []byte("jxl ")
	b = binary.BigEndian.AppendUint32(b, 0)
	return append(b, "jxl "...)
}

// boxHeader is a parsed box header.
type boxHeader struct {
	typ        BoxType
	headerSize int
	// contentSize is -1 for a box running to the end of the stream.
	contentSize int64
}

// parseBoxHeader returns errShort when data does not hold a full header.
func parseBoxHeader(data []byte) (boxHeader, error) {
	if len(data) < 8 {
		return boxHeader{}, errShort
	}
	var h boxHeader
	size := uint64(binary.BigEndian.Uint32(data))
	copy(h.typ[:], data[4:8])
	h.headerSize = 8
	switch size {
	case 0:
		h.contentSize = -1
		return h, nil
	case 1:
		if len(data) < 16 {
			return boxHeader{}, errShort
		}
		size = binary.BigEndian.Uint64(data[8:])
		h.headerSize = 16
	}
	if size < uint64(h.headerSize) || size-uint64(h.headerSize) > 1<<62 {
		return boxHeader{}, newError(CodeBadInput, "container", fmt.Errorf("%w: %d", errBoxSize, size))
	}
	h.contentSize = int64(size) - int64(h.headerSize)
	return h, nil
}

// demuxer splits a container stream into codestream bytes and metadata
// boxes. It accepts input in arbitrary pieces.
type demuxer struct {
	pending []byte // bytes not yet assigned to a box

	inCodestream  bool  // currently inside a jxlc or jxlp box
	codestreamRem int64 // bytes left in that box, -1 to end of stream
	partialIndex  uint32
	sawSignature  bool
	sawCodestream bool
	lastPartial   bool

	decompress bool
	boxes      []Box
	jbrd       []byte // compressed reconstruction data
}

// feed consumes data and returns the codestream bytes it contained.
func (d *demuxer) feed(data []byte) ([]byte, error) {
	d.pending = append(d.pending, data...)
	var out []byte
	for len(d.pending) > 0 {
		if d.inCodestream {
			n := int64(len(d.pending))
			if d.codestreamRem >= 0 && n > d.codestreamRem {
				n = d.codestreamRem
			}
			out = append(out, d.pending[:n]...)
			d.pending = d.pending[n:]
			if d.codestreamRem >= 0 {
				d.codestreamRem -= n
				if d.codestreamRem == 0 {
					d.inCodestream = false
				}
			}
			continue
		}
		if !d.sawSignature {
			if len(d.pending) < len(containerSignature) {
				break
			}
			if !bytes.Equal(d.pending[:len(containerSignature)], containerSignature) {
				return out, newError(CodeBadInput, "container", errBadSignature)
			}
			d.pending = d.pending[len(containerSignature):]
			d.sawSignature = true
			continue
		}
		h, err := parseBoxHeader(d.pending)
		if errors.Is(err, errShort) {
			break
		}
		if err != nil {
			return out, err
		}
		switch h.typ {
		case TypeCodestream, TypePartial:
			if h.typ == TypePartial {
				if h.contentSize >= 0 && h.contentSize < 4 {
					return out, newError(CodeBadInput, "container", errBoxSize)
				}
				if len(d.pending) < h.headerSize+4 {
					return out, nil
				}
				idx := binary.BigEndian.Uint32(d.pending[h.headerSize:])
				if d.lastPartial || idx&^partialLast != d.partialIndex {
					return out, newError(CodeBadInput, "container", fmt.Errorf("%w: jxlp index %d", errBoxOrder, idx&^partialLast))
				}
				d.partialIndex++
				d.lastPartial = idx&partialLast != 0
				d.pending = d.pending[h.headerSize+4:]
				if h.contentSize >= 0 {
					h.contentSize -= 4
				}
			} else {
				if d.sawCodestream {
					return out, newError(CodeBadInput, "container", fmt.Errorf("%w: second jxlc", errBoxOrder))
				}
				d.pending = d.pending[h.headerSize:]
			}
			d.sawCodestream = true
			d.inCodestream = h.contentSize != 0
			d.codestreamRem = h.contentSize
		default:
			if h.contentSize < 0 {
				// A metadata box running to the end cannot be delimited
				// incrementally; everything after it is its contents.
				return out, newError(CodeNotSupported, "container", fmt.Errorf("open-ended %s box", h.typ))
			}
			if h.contentSize > maxBoxSize {
				return out, newError(CodeBadInput, "container", fmt.Errorf("%w: %s box of %d bytes", errBoxSize, h.typ, h.contentSize))
			}
			total := h.headerSize + int(h.contentSize)
			if len(d.pending) < total {
				return out, nil
			}
			contents := d.pending[h.headerSize:total]
			if err := d.handleBox(h.typ, contents); err != nil {
				return out, err
			}
			d.pending = d.pending[total:]
		}
	}
	// drop consumed prefix so pending does not pin old input
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return out, nil
}

func (d *demuxer) handleBox(t BoxType, contents []byte) error {
	switch t {
	case TypeFileType:
		if len(contents) < 4 || !bytes.Equal(contents[:4], []byte("jxl ")) {
			return newError(CodeBadInput, "container", fmt.Errorf("unexpected brand %q", contents))
		}
	case TypeJPEGRecon:
		if d.sawCodestream {
			// reconstruction data after the codestream is ignored
			return nil
		}
		d.jbrd = append([]byte(nil), contents...)
	case TypeExif, TypeXML, TypeJUMBF:
		d.boxes = append(d.boxes, Box{Type: t, Data: append([]byte(nil), contents...)})
	case TypeBrotli:
		if !d.decompress {
			var inner BoxType
			if len(contents) >= 4 {
				copy(inner[:], contents)
			}
			d.boxes = append(d.boxes, Box{Type: inner, Data: append([]byte(nil), contents...), Compressed: true})
			return nil
		}
		inner, data, err := decompressBrob(contents)
		if err != nil {
			return newError(CodeBadInput, "brob", err)
		}
		d.boxes = append(d.boxes, Box{Type: inner, Data: data})
	}
	return nil
}
