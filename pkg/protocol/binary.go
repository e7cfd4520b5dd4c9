package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Compact binary codec used on framed point-to-point links. All integers
// are little-endian, byte strings carry a 16-bit length prefix and optional
// fields a single presence byte. Fields are emitted in struct order.
//
// Decoding is zero-copy: Bytes fields of the returned message alias the
// input buffer. Trailing bytes after a complete message are ignored, which
// lets fixed-size frames be zero padded.

var (
	// ErrTruncated is returned when the input ends before a complete
	// message could be decoded.
	ErrTruncated = errors.New("truncated message")
	// ErrOverflow is returned when an encoded message does not fit the
	// provided buffer or a byte string exceeds the length prefix range.
	ErrOverflow = errors.New("message too large")
	// ErrInvalid is returned for malformed input, such as an unknown
	// command tag or presence byte.
	ErrInvalid = errors.New("malformed message")
)

const maxByteString = 0xFFFF

type writer struct {
	buf []byte
	off int
}

func (w *writer) bytes(b []byte) error {
	if len(b) > maxByteString {
		return ErrOverflow
	}
	if w.off+2+len(b) > len(w.buf) {
		return ErrOverflow
	}
	binary.LittleEndian.PutUint16(w.buf[w.off:], uint16(len(b)))
	w.off += 2
	w.off += copy(w.buf[w.off:], b)
	return nil
}

func (w *writer) u32(v uint32) error {
	if w.off+4 > len(w.buf) {
		return ErrOverflow
	}
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
	return nil
}

func (w *writer) u8(v uint8) error {
	if w.off+1 > len(w.buf) {
		return ErrOverflow
	}
	w.buf[w.off] = v
	w.off++
	return nil
}

func (w *writer) optU32(v *uint32) error {
	if v == nil {
		return w.u8(0)
	}
	if err := w.u8(1); err != nil {
		return err
	}
	return w.u32(*v)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) bytes() ([]byte, error) {
	if r.off+2 > len(r.buf) {
		return nil, ErrTruncated
	}
	n := int(binary.LittleEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	if r.off+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u8() (uint8, error) {
	if r.off+1 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) optU32() (*uint32, error) {
	flag, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch flag {
	case 0:
		return nil, nil
	case 1:
		v, err := r.u32()
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("%w: presence byte 0x%02x", ErrInvalid, flag)
	}
}

// EncodeStatus encodes s into buf and returns the number of bytes written.
func EncodeStatus(buf []byte, s *Status) (int, error) {
	w := writer{buf: buf}
	if err := w.bytes(s.Version); err != nil {
		return 0, err
	}
	if err := w.optU32(s.MTU); err != nil {
		return 0, err
	}
	if err := w.optU32(s.CorrelationID); err != nil {
		return 0, err
	}
	if s.Update == nil {
		if err := w.u8(0); err != nil {
			return 0, err
		}
		return w.off, nil
	}
	if err := w.u8(1); err != nil {
		return 0, err
	}
	if err := w.bytes(s.Update.Version); err != nil {
		return 0, err
	}
	if err := w.u32(s.Update.Offset); err != nil {
		return 0, err
	}
	return w.off, nil
}

// DecodeStatus decodes a Status from buf. The returned message aliases buf.
func DecodeStatus(buf []byte) (*Status, error) {
	r := reader{buf: buf}
	s := &Status{}
	var err error
	if s.Version, err = r.bytes(); err != nil {
		return nil, err
	}
	if s.MTU, err = r.optU32(); err != nil {
		return nil, err
	}
	if s.CorrelationID, err = r.optU32(); err != nil {
		return nil, err
	}
	flag, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch flag {
	case 0:
	case 1:
		u := &UpdateStatus{}
		if u.Version, err = r.bytes(); err != nil {
			return nil, err
		}
		if u.Offset, err = r.u32(); err != nil {
			return nil, err
		}
		s.Update = u
	default:
		return nil, fmt.Errorf("%w: presence byte 0x%02x", ErrInvalid, flag)
	}
	return s, nil
}

// EncodeCommand encodes c into buf and returns the number of bytes written.
func EncodeCommand(buf []byte, c *Command) (int, error) {
	w := writer{buf: buf}
	if err := w.u8(c.Tag); err != nil {
		return 0, err
	}
	switch c.Tag {
	case TagWait:
		if err := w.optU32(c.CorrelationID); err != nil {
			return 0, err
		}
		if err := w.optU32(c.Poll); err != nil {
			return 0, err
		}
	case TagSync:
		if err := w.bytes(c.Version); err != nil {
			return 0, err
		}
		if err := w.optU32(c.CorrelationID); err != nil {
			return 0, err
		}
		if err := w.optU32(c.Poll); err != nil {
			return 0, err
		}
	case TagWrite:
		if err := w.bytes(c.Version); err != nil {
			return 0, err
		}
		if err := w.optU32(c.CorrelationID); err != nil {
			return 0, err
		}
		if err := w.u32(c.Offset); err != nil {
			return 0, err
		}
		if err := w.bytes(c.Data); err != nil {
			return 0, err
		}
	case TagSwap:
		if err := w.bytes(c.Version); err != nil {
			return 0, err
		}
		if err := w.optU32(c.CorrelationID); err != nil {
			return 0, err
		}
		if err := w.bytes(c.Checksum); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: command tag %d", ErrInvalid, c.Tag)
	}
	return w.off, nil
}

// DecodeCommand decodes a Command from buf. The returned message aliases buf.
func DecodeCommand(buf []byte) (*Command, error) {
	r := reader{buf: buf}
	tag, err := r.u8()
	if err != nil {
		return nil, err
	}
	c := &Command{Tag: tag}
	switch tag {
	case TagWait:
		if c.CorrelationID, err = r.optU32(); err != nil {
			return nil, err
		}
		if c.Poll, err = r.optU32(); err != nil {
			return nil, err
		}
	case TagSync:
		if c.Version, err = r.bytes(); err != nil {
			return nil, err
		}
		if c.CorrelationID, err = r.optU32(); err != nil {
			return nil, err
		}
		if c.Poll, err = r.optU32(); err != nil {
			return nil, err
		}
	case TagWrite:
		if c.Version, err = r.bytes(); err != nil {
			return nil, err
		}
		if c.CorrelationID, err = r.optU32(); err != nil {
			return nil, err
		}
		if c.Offset, err = r.u32(); err != nil {
			return nil, err
		}
		if c.Data, err = r.bytes(); err != nil {
			return nil, err
		}
	case TagSwap:
		if c.Version, err = r.bytes(); err != nil {
			return nil, err
		}
		if c.CorrelationID, err = r.optU32(); err != nil {
			return nil, err
		}
		if c.Checksum, err = r.bytes(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: command tag %d", ErrInvalid, tag)
	}
	return c, nil
}
