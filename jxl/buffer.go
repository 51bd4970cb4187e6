package jxl

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/cocosip/go-jxl/internal/engine"
)

// MemoryManager overrides byte buffer allocation for the engine and the
// growable output buffers. Alloc returns nil when it cannot satisfy the
// request; Free receives buffers the caller will not touch again.
type MemoryManager interface {
	Alloc(size int) []byte
	Free(buf []byte)
}

func allocator(mm MemoryManager) engine.Allocator {
	if mm == nil {
		return nil
	}
	return mm
}

func allocate(mm MemoryManager, size int) ([]byte, error) {
	if mm == nil {
		return make([]byte, size), nil
	}
	buf := mm.Alloc(size)
	if len(buf) < size {
		return nil, fmt.Errorf("%w: allocating %d bytes", ErrOutOfMemory, size)
	}
	buf = buf[:size]
	clear(buf)
	return buf, nil
}

// growBuffer is an output buffer the engine fills in pieces. Only the
// unwritten tail is ever offered, so written bytes are never handed out
// twice.
type growBuffer struct {
	mm      MemoryManager
	buf     []byte
	written int
}

func newGrowBuffer(mm MemoryManager, size int) (*growBuffer, error) {
	buf, err := allocate(mm, size)
	if err != nil {
		return nil, err
	}
	return &growBuffer{mm: mm, buf: buf}, nil
}

// tail returns the unwritten part of the buffer.
func (g *growBuffer) tail() []byte {
	return g.buf[g.written:]
}

// commit records n bytes of the tail as written.
func (g *growBuffer) commit(n int) {
	g.written += n
}

// grow enlarges the buffer by n bytes, keeping the written prefix.
func (g *growBuffer) grow(n int) error {
	if n <= 0 {
		return nil
	}
	buf, err := allocate(g.mm, len(g.buf)+n)
	if err != nil {
		return err
	}
	copy(buf, g.buf[:g.written])
	if g.mm != nil {
		g.mm.Free(g.buf)
	}
	log.WithFields(log.Fields{"from": len(g.buf), "to": len(buf)}).Debug("jxl: output buffer grown")
	g.buf = buf
	return nil
}

// double grows the buffer to twice its size.
func (g *growBuffer) double() error {
	return g.grow(max(len(g.buf), 1))
}

// bytes returns the written bytes as a caller-owned slice.
func (g *growBuffer) bytes() []byte {
	if g.mm == nil {
		return g.buf[:g.written:g.written]
	}
	out := make([]byte, g.written)
	copy(out, g.buf)
	g.mm.Free(g.buf)
	g.buf, g.written = nil, 0
	return out
}

func (g *growBuffer) release() {
	if g.mm != nil && g.buf != nil {
		g.mm.Free(g.buf)
	}
	g.buf, g.written = nil, 0
}
