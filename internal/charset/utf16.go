package charset

import (
	"encoding/binary"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// utf16Codec is the whole-buffer decoder/encoder used by Convert's UTF-16
// fast path: it honors a leading BOM (UCS-2/UTF-16LE/UTF-16BE all collapse
// into the single UTF16 Charset value, per charset.go's alias table) and
// defaults to little-endian when none is present.
var utf16Codec = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)

// decodeOneUTF16 decodes a single UTF-16 code unit pair (or lone BMP unit)
// from b, handling surrogate pairs. This is the single-code-unit primitive
// DecodeOne needs; x/text's unicode.UTF16 only exposes whole-buffer
// Transform semantics; see Convert's UTF-16 fast path for where that's used
// instead. Always little-endian: callers wanting BOM-aware bulk decoding
// should use Convert, not DecodeOne, for UTF-16 input.
func decodeOneUTF16(b []byte) (rune, int, error) {
	if len(b) < 2 {
		return 0, 1, ErrInvalidByte
	}
	u1 := binary.LittleEndian.Uint16(b)

	if utf16.IsSurrogate(rune(u1)) {
		if len(b) < 4 {
			return 0, 1, ErrInvalidByte
		}
		u2 := binary.LittleEndian.Uint16(b[2:])
		r := utf16.DecodeRune(rune(u1), rune(u2))
		if r == utf8.RuneError {
			return 0, 1, ErrInvalidByte
		}
		return r, 4, nil
	}
	return rune(u1), 2, nil
}

// encodeOneUTF16 encodes r as little-endian UTF-16, emitting a surrogate
// pair for code points beyond the BMP.
func encodeOneUTF16(r rune) []byte {
	if r <= 0xFFFF {
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(r))
		return buf
	}
	hi, lo := utf16.EncodeRune(r)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], uint16(hi))
	binary.LittleEndian.PutUint16(buf[2:], uint16(lo))
	return buf
}

// convertFromUTF16 decodes the whole input through x/text's BOM-aware
// UTF-16 codec, then re-encodes each resulting rune into to, classifying
// the result the same way Convert's general loop does.
func convertFromUTF16(to Charset, input []byte) ([]byte, ConvertKind) {
	decoded, decErr := utf16Codec.NewDecoder().Bytes(input)

	var out []byte
	lossy := false
	for _, r := range string(decoded) {
		enc, ok := encodeOneChecked(to, r)
		if !ok {
			lossy = true
			out = append(out, '?')
			continue
		}
		out = append(out, enc...)
	}

	switch {
	case decErr != nil:
		return out, ConvertInvalidInput
	case lossy:
		return out, ConvertLossy
	default:
		return out, ConvertExact
	}
}
