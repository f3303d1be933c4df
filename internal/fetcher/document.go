package fetcher

import (
	"bytes"

	"github.com/modrunner/sourcefetch/internal/textenc"
)

// TextDocument owns the raw bytes of a module source together with its
// charset label. Decoding to text happens on demand; byte-level consumers
// never pay for (or observe failures of) charset conversion.
type TextDocument struct {
	bytes   []byte
	charset string
}

// NewTextDocument wraps raw source bytes. An empty charset label is derived
// from the bytes, so the label is always non-empty.
func NewTextDocument(b []byte, charset string) *TextDocument {
	if charset == "" {
		charset = textenc.DetectCharset(b)
	}
	return &TextDocument{bytes: b, charset: charset}
}

// Bytes returns the raw source bytes.
func (d *TextDocument) Bytes() []byte {
	return d.bytes
}

// Charset returns the document's charset label.
func (d *TextDocument) Charset() string {
	return d.charset
}

// Text decodes the document to UTF-8.
func (d *TextDocument) Text() (string, error) {
	return textenc.ConvertToUTF8(d.bytes, d.charset)
}

// Equal reports whether two documents carry the same bytes and label.
func (d *TextDocument) Equal(o *TextDocument) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.charset == o.charset && bytes.Equal(d.bytes, o.bytes)
}
