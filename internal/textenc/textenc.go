// Package textenc detects source charsets and converts raw bytes to UTF-8.
package textenc

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xef, 0xbb, 0xbf}
	bomUTF16BE = []byte{0xfe, 0xff}
	bomUTF16LE = []byte{0xff, 0xfe}
)

// DetectCharset sniffs the byte order mark of a source document and returns
// the charset label. Sources without a BOM are assumed to be UTF-8.
func DetectCharset(b []byte) string {
	switch {
	case bytes.HasPrefix(b, bomUTF8):
		return "utf-8"
	case bytes.HasPrefix(b, bomUTF16BE):
		return "utf-16be"
	case bytes.HasPrefix(b, bomUTF16LE):
		return "utf-16le"
	default:
		return "utf-8"
	}
}

// ConvertToUTF8 decodes b according to the charset label. Labels are matched
// case-insensitively against the WHATWG encoding index.
func ConvertToUTF8(b []byte, label string) (string, error) {
	enc, name := charset.Lookup(label)
	if enc == nil {
		return "", fmt.Errorf("unsupported charset %q", label)
	}

	// The html index maps both utf-16 labels to decoders that expect a BOM;
	// module sources declare endianness in the label itself, so pick the
	// exact decoder instead.
	switch name {
	case "utf-16be":
		enc = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	case "utf-16le":
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case "utf-8":
		b = bytes.TrimPrefix(b, bomUTF8)
		if !utf8.Valid(b) {
			return "", fmt.Errorf("invalid utf-8 sequence in %s document", label)
		}
		return string(b), nil
	}

	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decoding %s document: %w", label, err)
	}
	return string(decoded), nil
}
