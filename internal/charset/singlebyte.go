package charset

import (
	"errors"

	"golang.org/x/text/encoding/charmap"
)

// ErrInvalidByte is returned by DecodeOne when the next byte (or byte
// sequence) isn't valid in the requested charset.
var ErrInvalidByte = errors.New("charset: invalid byte sequence")

// charmaps backs every ISO-8859-* variant with its golang.org/x/text table;
// single-byte decode/encode both go through the same *charmap.Charmap via
// its Decoder/Encoder Bytes() helpers, which is the encoding.Encoding
// convention the x/text ecosystem uses throughout the retrieved pack.
var charmaps = map[Charset]*charmap.Charmap{
	ISO8859_1:  charmap.ISO8859_1,
	ISO8859_2:  charmap.ISO8859_2,
	ISO8859_3:  charmap.ISO8859_3,
	ISO8859_4:  charmap.ISO8859_4,
	ISO8859_5:  charmap.ISO8859_5,
	ISO8859_6:  charmap.ISO8859_6,
	ISO8859_7:  charmap.ISO8859_7,
	ISO8859_8:  charmap.ISO8859_8,
	ISO8859_9:  charmap.ISO8859_9,
	ISO8859_10: charmap.ISO8859_10,
	ISO8859_15: charmap.ISO8859_15,
}

// DecodeOne decodes the next code point out of b under charset cs and
// reports how many bytes it consumed.
func DecodeOne(cs Charset, b []byte) (r rune, size int, err error) {
	if len(b) == 0 {
		return 0, 0, ErrInvalidByte
	}

	switch cs {
	case UTF8:
		return decodeOneUTF8Lenient(b)
	case ASCII:
		if b[0] >= 0x80 {
			return 0, 1, ErrInvalidByte
		}
		return rune(b[0]), 1, nil
	case UTF16:
		return decodeOneUTF16(b)
	default:
		cm, ok := charmaps[cs]
		if !ok {
			return 0, 1, ErrInvalidByte
		}
		decoded, err := cm.NewDecoder().Bytes(b[:1])
		if err != nil || len(decoded) == 0 {
			return 0, 1, ErrInvalidByte
		}
		r, _ := decodeUTF8Rune(decoded)
		return r, 1, nil
	}
}

// EncodeOne encodes r under charset cs, returning nil if cs cannot
// represent r.
func EncodeOne(cs Charset, r rune) []byte {
	enc, ok := encodeOneChecked(cs, r)
	if !ok {
		return nil
	}
	return enc
}

func encodeOneChecked(cs Charset, r rune) ([]byte, bool) {
	switch cs {
	case UTF8:
		return encodeOneUTF8Lenient(r), true
	case ASCII:
		if r > 0x7F {
			return nil, false
		}
		return []byte{byte(r)}, true
	case UTF16:
		return encodeOneUTF16(r), true
	default:
		cm, ok := charmaps[cs]
		if !ok {
			return nil, false
		}
		enc, err := cm.NewEncoder().Bytes([]byte(string(r)))
		if err != nil || len(enc) == 0 {
			return nil, false
		}
		return enc, true
	}
}

// decodeUTF8Rune is a tiny local helper so singlebyte.go doesn't need to
// import unicode/utf8 just for this one call site; charmap.Decoder always
// emits valid, single-rune UTF-8 for a single input byte.
func decodeUTF8Rune(b []byte) (rune, int) {
	if len(b) == 0 {
		return 0, 0
	}
	if b[0] < 0x80 {
		return rune(b[0]), 1
	}
	r, size, _ := decodeOneUTF8Lenient(b)
	return r, size
}
