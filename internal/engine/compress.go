package engine

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// maxGroupBytes bounds a decompressed group payload.
const maxGroupBytes = 1 << 30

func newZstdEncoder(level zstd.EncoderLevel) (*zstd.Encoder, error) {
	return zstd.NewWriter(
		nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(level),
		zstd.WithLowerEncoderMem(true),
	)
}

func newZstdDecoder() (*zstd.Decoder, error) {
	return zstd.NewReader(
		nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxMemory(maxGroupBytes),
	)
}

// encoderPools holds one pool per zstd level so threads of a parallel
// section can borrow an encoder each.
var encoderPools sync.Map // zstd.EncoderLevel -> *sync.Pool

var decoderPool = sync.Pool{}

func getZstdEncoder(level zstd.EncoderLevel) (*zstd.Encoder, error) {
	p, _ := encoderPools.LoadOrStore(level, &sync.Pool{})
	if enc, ok := p.(*sync.Pool).Get().(*zstd.Encoder); ok {
		return enc, nil
	}
	return newZstdEncoder(level)
}

func putZstdEncoder(level zstd.EncoderLevel, enc *zstd.Encoder) {
	if enc == nil {
		return
	}
	p, _ := encoderPools.LoadOrStore(level, &sync.Pool{})
	p.(*sync.Pool).Put(enc)
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if dec, ok := decoderPool.Get().(*zstd.Decoder); ok {
		return dec, nil
	}
	return newZstdDecoder()
}

func putZstdDecoder(dec *zstd.Decoder) {
	if dec != nil {
		decoderPool.Put(dec)
	}
}

// levelForEffort maps the 1..9 effort scale onto zstd's four levels.
func levelForEffort(effort int) zstd.EncoderLevel {
	switch {
	case effort <= 2:
		return zstd.SpeedFastest
	case effort <= 5:
		return zstd.SpeedDefault
	case effort <= 8:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// compressZstd compresses a standalone payload such as JPEG reconstruction
// data.
func compressZstd(data []byte, level zstd.EncoderLevel) ([]byte, error) {
	enc, err := getZstdEncoder(level)
	if err != nil {
		return nil, err
	}
	out := enc.EncodeAll(data, nil)
	putZstdEncoder(level, enc)
	return out, nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(data, nil)
	putZstdDecoder(dec)
	return out, err
}

// brotli quality used for compressed metadata boxes
const brobQuality = 9

// compressBrob builds the contents of a brob box: the inner box type
// followed by the Brotli stream of the inner contents.
func compressBrob(inner BoxType, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(inner[:])
	w := brotli.NewWriterLevel(&buf, brobQuality)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("brotli compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli compress: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressBrob reverses compressBrob.
func decompressBrob(contents []byte) (BoxType, []byte, error) {
	var inner BoxType
	if len(contents) < 4 {
		return inner, nil, fmt.Errorf("brob box too short: %d bytes", len(contents))
	}
	copy(inner[:], contents[:4])
	out, err := io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(contents[4:])), maxBoxSize+1))
	if err != nil {
		return inner, nil, fmt.Errorf("brotli decompress: %w", err)
	}
	if len(out) > maxBoxSize {
		return inner, nil, errFieldTooLarge
	}
	return inner, out, nil
}
