package roster

// streaming.go cleans up uploaded files on the fly, without buffering the
// whole document:
//
//   - bomReader strips a UTF-8 BOM (0xEF 0xBB 0xBF), common in files
//     exported from Windows spreadsheet tools
//   - utf8Sanitizer replaces invalid UTF-8 bytes with '?'
//
// wrapUpload applies both in the required order (BOM first).

import (
	"io"
	"unicode/utf8"
)

// wrapUpload wraps an uploaded file with BOM skipping and UTF-8
// sanitization.
func wrapUpload(r io.Reader) io.Reader {
	return newUTF8Sanitizer(newBOMReader(r))
}

// bomReader skips a leading UTF-8 BOM if present.
type bomReader struct {
	reader  io.Reader
	checked bool
	buf     [3]byte
	rest    []byte
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{reader: r}
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true

		n, err := io.ReadFull(b.reader, b.buf[:])
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if n == 3 && b.buf[0] == 0xEF && b.buf[1] == 0xBB && b.buf[2] == 0xBF {
			// BOM found, drop it.
		} else {
			b.rest = b.buf[:n]
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
	}

	if len(b.rest) > 0 {
		n := copy(p, b.rest)
		b.rest = b.rest[n:]
		return n, nil
	}

	return b.reader.Read(p)
}

// utf8Sanitizer replaces invalid UTF-8 sequences with '?' as data flows
// through, holding back a possibly incomplete multi-byte sequence at the
// end of each read until the next one.
type utf8Sanitizer struct {
	reader  io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if allASCII(p[:n]) {
		return n, err
	}

	return s.sanitize(p[:n], err == io.EOF), err
}

// sanitize rewrites data in place and returns how many bytes are valid.
// When not at EOF, an incomplete trailing sequence is saved for the next
// read instead of being replaced.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])

		if !atEOF && read+size >= len(data) && incompleteRune(data[read:]) {
			s.pending = append(s.pending, data[read:]...)
			return write
		}

		if r == utf8.RuneError && size == 1 {
			// '?' keeps the output the same length as the input, which the
			// in-place rewrite requires.
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

func allASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// incompleteRune reports whether data starts a multi-byte sequence that
// extends past the end of the buffer.
func incompleteRune(data []byte) bool {
	if len(data) == 0 || data[0] < 0xC0 {
		return false
	}
	want := 2
	switch {
	case data[0] >= 0xF0:
		want = 4
	case data[0] >= 0xE0:
		want = 3
	}
	return want > len(data)
}
