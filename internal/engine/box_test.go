package engine

import (
	"bytes"
	"errors"
	"testing"
)

func TestCheckSignature(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Signature
	}{
		{"empty", nil, SignatureNotEnoughBytes},
		{"one ff", []byte{0xFF}, SignatureNotEnoughBytes},
		{"codestream", []byte{0xFF, 0x0A, 0x01}, SignatureCodestream},
		{"ff other", []byte{0xFF, 0xD8}, SignatureInvalid},
		{"zeros", make([]byte, 64), SignatureInvalid},
		{"container prefix", containerSignature[:6], SignatureNotEnoughBytes},
		{"container", containerSignature, SignatureContainer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckSignature(tt.data); got != tt.want {
				t.Errorf("CheckSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBoxHeader(t *testing.T) {
	small := appendBox(nil, TypeXML, []byte("abc"))
	h, err := parseBoxHeader(small)
	if err != nil {
		t.Fatalf("parseBoxHeader() error = %v", err)
	}
	if h.typ != TypeXML || h.headerSize != 8 || h.contentSize != 3 {
		t.Errorf("header = %+v", h)
	}

	extended := []byte{0, 0, 0, 1, 'j', 'x', 'l', 'c', 0, 0, 0, 0, 0, 0, 0, 20}
	if h, err = parseBoxHeader(extended); err != nil {
		t.Fatalf("parseBoxHeader(extended) error = %v", err)
	}
	if h.headerSize != 16 || h.contentSize != 4 {
		t.Errorf("extended header = %+v", h)
	}

	open := []byte{0, 0, 0, 0, 'j', 'x', 'l', 'c'}
	if h, err = parseBoxHeader(open); err != nil || h.contentSize != -1 {
		t.Errorf("open-ended header = %+v, %v", h, err)
	}

	if _, err = parseBoxHeader(extended[:12]); !errors.Is(err, errShort) {
		t.Errorf("short extended header error = %v, want %v", err, errShort)
	}
	if _, err = parseBoxHeader([]byte{0, 0, 0, 4, 'x', 'm', 'l', ' '}); !errors.Is(err, errBoxSize) {
		t.Errorf("undersized box error = %v, want %v", err, errBoxSize)
	}
}

func TestDemuxOpenEndedCodestream(t *testing.T) {
	d := demuxer{}
	data := append([]byte(nil), containerSignature...)
	data = append(data, 0, 0, 0, 0, 'j', 'x', 'l', 'c')
	data = append(data, 0xFF, 0x0A, 1, 2, 3)
	var cs []byte
	for _, b := range data {
		out, err := d.feed([]byte{b})
		if err != nil {
			t.Fatalf("feed() error = %v", err)
		}
		cs = append(cs, out...)
	}
	if !bytes.Equal(cs, []byte{0xFF, 0x0A, 1, 2, 3}) {
		t.Errorf("codestream = %x", cs)
	}
}

func TestBrobRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("<rdf:Description/>"), 50)
	contents, err := compressBrob(TypeXML, payload)
	if err != nil {
		t.Fatalf("compressBrob() error = %v", err)
	}
	if len(contents) >= len(payload) {
		t.Errorf("brob contents %d bytes, not smaller than %d", len(contents), len(payload))
	}
	inner, out, err := decompressBrob(contents)
	if err != nil {
		t.Fatalf("decompressBrob() error = %v", err)
	}
	if inner != TypeXML || !bytes.Equal(out, payload) {
		t.Errorf("decompressBrob() = %v, %d bytes", inner, len(out))
	}
}
