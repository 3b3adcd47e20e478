// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap // import "github.com/go-lpc/axipwm/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a memory-mapped window of a physical address range.
type Handle struct {
	raw  []byte // page-aligned mapping, as returned by mmap
	data []byte // requested window inside raw
	f    *os.File
}

// HandleFrom wraps an already mapped region.
func HandleFrom(data []byte) *Handle {
	h := &Handle{raw: data, data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Open maps span bytes of the physical memory file fname (usually /dev/mem),
// starting at the physical address base.
// base does not need to be page-aligned.
func Open(fname string, base, span int64) (*Handle, error) {
	if span <= 0 {
		return nil, fmt.Errorf("mmap: invalid span %d", span)
	}
	if base < 0 {
		return nil, fmt.Errorf("mmap: invalid base address 0x%x", base)
	}

	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}

	var (
		psz   = int64(os.Getpagesize())
		off   = base &^ (psz - 1)
		delta = base - off
	)

	raw, err := unix.Mmap(
		int(f.Fd()), off, int(span+delta),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: could not mmap %q at 0x%x: %w", fname, base, err)
	}
	if int64(len(raw)) != span+delta {
		_ = unix.Munmap(raw)
		_ = f.Close()
		return nil, fmt.Errorf("mmap: invalid mmap'd data: %d", len(raw))
	}

	h := &Handle{
		raw:  raw,
		data: raw[delta : delta+span],
		f:    f,
	}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// Close unmaps the window and closes the underlying file.
// Closing an already closed handle is a no-op.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	raw := h.raw
	h.raw = nil
	h.data = nil
	runtime.SetFinalizer(h, nil)

	err := unix.Munmap(raw)
	if h.f != nil {
		errF := h.f.Close()
		h.f = nil
		if err == nil {
			err = errF
		}
	}
	return err
}

// Len returns the length of the mapped window.
func (h *Handle) Len() int {
	return len(h.data)
}

// At returns the byte at index i.
func (h *Handle) At(i int) byte {
	return h.data[i]
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
