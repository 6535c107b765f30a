package binlog

import (
	"io"
)

// writer frames outgoing packets. Payloads larger than 0xFFFFFF bytes
// are split across continuation frames; the sequence number increments
// per frame and is reset by the caller at each command boundary.
type writer struct {
	dst io.Writer
	buf []byte
	seq *uint8
	err error
}

func newWriter(dst io.Writer, seq *uint8) *writer {
	return &writer{
		dst: dst,
		buf: make([]byte, frameHeaderSize, frameHeaderSize+maxPacketSize),
		seq: seq,
	}
}

// flush writes out every full frame buffered so far.
func (w *writer) flush() error {
	if w.err != nil {
		return w.err
	}
	for len(w.buf) >= frameHeaderSize+maxPacketSize {
		w.buf[0], w.buf[1], w.buf[2], w.buf[3] = 0xff, 0xff, 0xff, *w.seq
		*w.seq++
		if _, w.err = w.dst.Write(w.buf[:frameHeaderSize+maxPacketSize]); w.err != nil {
			return w.err
		}
		rest := copy(w.buf[frameHeaderSize:], w.buf[frameHeaderSize+maxPacketSize:])
		w.buf = w.buf[:frameHeaderSize+rest]
	}
	return nil
}

// Close flushes the final (possibly empty) frame of the packet.
func (w *writer) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	n := len(w.buf) - frameHeaderSize
	w.buf[0], w.buf[1], w.buf[2], w.buf[3] = byte(n), byte(n>>8), byte(n>>16), *w.seq
	*w.seq++
	_, err := w.dst.Write(w.buf)
	return err
}

func (w *writer) Write(b []byte) (n int, err error) {
	for {
		if err := w.flush(); err != nil {
			return n, err
		}
		room := frameHeaderSize + maxPacketSize - len(w.buf)
		if room > len(b) {
			room = len(b)
		}
		w.buf = append(w.buf, b[:room]...)
		n += room
		b = b[room:]
		if len(b) == 0 {
			return n, nil
		}
	}
}

func (w *writer) int1(v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func (w *writer) int2(v uint16) error {
	_, err := w.Write([]byte{byte(v), byte(v >> 8)})
	return err
}

func (w *writer) int4(v uint32) error {
	_, err := w.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	return err
}

func (w *writer) int8(v uint64) error {
	_, err := w.Write([]byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	})
	return err
}

// intN writes a length-encoded integer.
func (w *writer) intN(v uint64) error {
	var b []byte
	switch {
	case v < 251:
		b = []byte{byte(v)}
	case v < 1<<16:
		b = []byte{0xfc, byte(v), byte(v >> 8)}
	case v < 1<<24:
		b = []byte{0xfd, byte(v), byte(v >> 8), byte(v >> 16)}
	default:
		b = []byte{0xfe,
			byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
			byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56)}
	}
	_, err := w.Write(b)
	return err
}

func (w *writer) string(v string) error {
	_, err := w.Write([]byte(v))
	return err
}

func (w *writer) stringNull(v string) error {
	if _, err := w.Write([]byte(v)); err != nil {
		return err
	}
	return w.int1(0)
}

func (w *writer) bytes1(v []byte) error {
	if err := w.int1(uint8(len(v))); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

func (w *writer) stringN(v string) error {
	if err := w.intN(uint64(len(v))); err != nil {
		return err
	}
	_, err := w.Write([]byte(v))
	return err
}
