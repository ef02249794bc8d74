// Package charset converts stream metadata between the charsets a
// SHOUTcast/Icecast source may declare and the charsets this module's own
// outputs need: the OS filesystem, ID3 tags, the relay's outgoing ICY
// metadata, and whatever locale the operator runs under.
package charset

import "strings"

// Charset identifies one of the encodings this package understands.
type Charset int

const (
	Unknown Charset = iota
	UTF8
	ASCII
	ISO8859_1
	ISO8859_2
	ISO8859_3
	ISO8859_4
	ISO8859_5
	ISO8859_6
	ISO8859_7
	ISO8859_8
	ISO8859_9
	ISO8859_10
	ISO8859_15
	UTF16
)

func (c Charset) String() string {
	switch c {
	case UTF8:
		return "UTF-8"
	case ASCII:
		return "US-ASCII"
	case ISO8859_1:
		return "ISO-8859-1"
	case ISO8859_2:
		return "ISO-8859-2"
	case ISO8859_3:
		return "ISO-8859-3"
	case ISO8859_4:
		return "ISO-8859-4"
	case ISO8859_5:
		return "ISO-8859-5"
	case ISO8859_6:
		return "ISO-8859-6"
	case ISO8859_7:
		return "ISO-8859-7"
	case ISO8859_8:
		return "ISO-8859-8"
	case ISO8859_9:
		return "ISO-8859-9"
	case ISO8859_10:
		return "ISO-8859-10"
	case ISO8859_15:
		return "ISO-8859-15"
	case UTF16:
		return "UTF-16"
	default:
		return "unknown"
	}
}

// aliases maps every case-folded name this package will accept to its
// canonical Charset, including the handful of historical aliases
// SHOUTcast/Icecast sources and ID3v2 frames are known to send.
var aliases = map[string]Charset{
	"utf-8":            UTF8,
	"utf8":             UTF8,
	"us-ascii":         ASCII,
	"ascii":            ASCII,
	"ansi_x3.4-1968":   ASCII,
	"iso-8859-1":       ISO8859_1,
	"latin1":           ISO8859_1,
	"iso-8859-2":       ISO8859_2,
	"latin2":           ISO8859_2,
	"iso-8859-3":       ISO8859_3,
	"iso-8859-4":       ISO8859_4,
	"iso-8859-5":       ISO8859_5,
	"iso-8859-6":       ISO8859_6,
	"iso-8859-7":       ISO8859_7,
	"iso-8859-8":       ISO8859_8,
	"iso-8859-9":       ISO8859_9,
	"iso-8859-10":      ISO8859_10,
	"iso-8859-15":      ISO8859_15,
	"latin9":           ISO8859_15,
	"utf-16":           UTF16,
	"utf16":            UTF16,
	"ucs-2":            UTF16,
	"ucs2":             UTF16,
	"utf-16le":         UTF16,
	"utf-16be":         UTF16,
}

// Find resolves a charset name (case-insensitive, alias-aware) to a
// Charset. ok is false for any name this package doesn't recognize.
func Find(name string) (cs Charset, ok bool) {
	cs, ok = aliases[strings.ToLower(strings.TrimSpace(name))]
	return cs, ok
}

// MaxBytesPerChar returns the largest number of bytes DecodeOne will ever
// consume for one rune in cs.
func MaxBytesPerChar(cs Charset) int {
	switch cs {
	case UTF8:
		return 6
	case UTF16:
		return 4
	case Unknown:
		return 0
	default:
		return 1
	}
}

// ConvertKind classifies the outcome of a Convert call.
type ConvertKind int

const (
	// ConvertUnknown means one of the requested charsets wasn't resolved;
	// Convert returns the input unchanged.
	ConvertUnknown ConvertKind = -1
	// ConvertExact means every input byte decoded and every resulting rune
	// re-encoded without loss.
	ConvertExact ConvertKind = 0
	// ConvertLossy means decoding succeeded but at least one rune had no
	// representation in the target charset and was replaced with '?'.
	ConvertLossy ConvertKind = 1
	// ConvertInvalidInput means the input itself contained bytes that
	// aren't valid in the source charset; each was replaced with '#'
	// before re-encoding.
	ConvertInvalidInput ConvertKind = 2
)

// Convert transcodes input from one charset to another, returning the
// result and a ConvertKind describing how faithfully it round-tripped.
func Convert(from, to Charset, input []byte) ([]byte, ConvertKind) {
	if from == Unknown || to == Unknown {
		return input, ConvertUnknown
	}
	if from == UTF16 {
		return convertFromUTF16(to, input)
	}

	var out []byte
	invalidInput := false
	lossy := false

	for i := 0; i < len(input); {
		r, size, err := DecodeOne(from, input[i:])
		if err != nil {
			invalidInput = true
			out = append(out, '#')
			if size <= 0 {
				size = 1
			}
			i += size
			continue
		}
		enc, ok := encodeOneChecked(to, r)
		if !ok {
			lossy = true
			out = append(out, '?')
		} else {
			out = append(out, enc...)
		}
		i += size
	}

	switch {
	case invalidInput:
		return out, ConvertInvalidInput
	case lossy:
		return out, ConvertLossy
	default:
		return out, ConvertExact
	}
}
