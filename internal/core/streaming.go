package core

// streaming.go cleans feed bytes on their way into the CSV reader.
//
// Upstream feeds are produced by arbitrary exporters, so two artifacts are
// common enough to handle before parsing:
//
//   - BOMSkippingReader: drops a leading UTF-8 BOM (0xEF 0xBB 0xBF), which
//     would otherwise become part of the first header name
//   - UTF8Sanitizer: replaces invalid UTF-8 bytes with '?'
//
// Use NewFeedReader to apply both in the correct order.

import (
	"io"
	"unicode/utf8"
)

var utf8BOM = [3]byte{0xEF, 0xBB, 0xBF}

// NewFeedReader strips a BOM and then sanitizes UTF-8.
func NewFeedReader(r io.Reader) io.Reader {
	return NewUTF8Sanitizer(NewBOMSkippingReader(r))
}

// BOMSkippingReader removes a UTF-8 BOM from the start of a stream.
type BOMSkippingReader struct {
	reader  io.Reader
	checked bool
	head    []byte // Bytes read during the BOM check that belong to the payload
}

// NewBOMSkippingReader creates a BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: r}
}

// Read implements io.Reader.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true

		var buf [3]byte
		n, err := io.ReadFull(r.reader, buf[:])
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			// Short stream: whatever we got is payload
			r.head = append([]byte(nil), buf[:n]...)
		case err != nil:
			return 0, err
		case buf != utf8BOM:
			r.head = append([]byte(nil), buf[:n]...)
		}
	}

	if len(r.head) > 0 {
		n := copy(p, r.head)
		r.head = r.head[n:]
		return n, nil
	}

	return r.reader.Read(p)
}

// UTF8Sanitizer replaces invalid UTF-8 bytes with '?' without buffering the
// whole stream. Multi-byte sequences split across reads are carried over.
type UTF8Sanitizer struct {
	reader  io.Reader
	pending []byte
}

// NewUTF8Sanitizer creates a streaming UTF-8 sanitizer.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

// Read implements io.Reader.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// Need room for a carried-over partial rune plus at least one new byte
	if len(p) <= len(s.pending) {
		return 0, io.ErrShortBuffer
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	return s.sanitize(p[:n], err != nil), err
}

// sanitize rewrites data in place and returns the number of bytes to hand
// out. When more input may follow, a trailing incomplete rune is held back.
func (s *UTF8Sanitizer) sanitize(data []byte, final bool) int {
	end := len(data)
	if !final {
		end -= partialRuneSuffix(data)
		s.pending = append(s.pending, data[end:]...)
	}

	if utf8.Valid(data[:end]) {
		return end
	}

	write := 0
	for read := 0; read < end; {
		r, size := utf8.DecodeRune(data[read:end])
		if r == utf8.RuneError && size == 1 {
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// partialRuneSuffix returns how many trailing bytes start a multi-byte rune
// that is not yet complete.
func partialRuneSuffix(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue // continuation byte, keep looking for the lead
		}
		if b < 0xC0 {
			return 0
		}
		if i < leadRuneLen(b) {
			return i
		}
		return 0
	}
	return 0
}

func leadRuneLen(b byte) int {
	switch {
	case b >= 0xF0:
		return 4
	case b >= 0xE0:
		return 3
	case b >= 0xC0:
		return 2
	default:
		return 1
	}
}
