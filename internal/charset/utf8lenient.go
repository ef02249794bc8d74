package charset

// decodeOneUTF8Lenient decodes one UTF-8 code point using the original
// (pre-RFC 3629) rules: up to 6 bytes per character, covering the full
// 31-bit range. golang.org/x/text's UTF-8 validation is strict RFC 3629
// (rejects the 5/6-byte forms and caps at U+10FFFF), so this one routine
// is hand-written against the wire format directly — see DESIGN.md for
// why nothing in the pack's x/text usage can serve it.
func decodeOneUTF8Lenient(b []byte) (r rune, size int, err error) {
	lead := b[0]

	switch {
	case lead < 0x80:
		return rune(lead), 1, nil
	case lead&0xE0 == 0xC0:
		return decodeContinuation(b, 2, rune(lead&0x1F), 0x80)
	case lead&0xF0 == 0xE0:
		return decodeContinuation(b, 3, rune(lead&0x0F), 0x800)
	case lead&0xF8 == 0xF0:
		return decodeContinuation(b, 4, rune(lead&0x07), 0x10000)
	case lead&0xFC == 0xF8:
		return decodeContinuation(b, 5, rune(lead&0x03), 0x200000)
	case lead&0xFE == 0xFC:
		return decodeContinuation(b, 6, rune(lead&0x01), 0x4000000)
	default:
		// 0x80-0xBF as a lead byte, or the two bytes RFC 3629 retired
		// (0xFE, 0xFF), are never valid.
		return 0, 1, ErrInvalidByte
	}
}

func decodeContinuation(b []byte, n int, lead rune, minValue rune) (rune, int, error) {
	if len(b) < n {
		return 0, 1, ErrInvalidByte
	}
	r := lead
	for i := 1; i < n; i++ {
		c := b[i]
		if c&0xC0 != 0x80 {
			return 0, 1, ErrInvalidByte
		}
		r = r<<6 | rune(c&0x3F)
	}
	if r < minValue {
		return 0, 1, ErrInvalidByte
	}
	return r, n, nil
}

// encodeOneUTF8Lenient encodes r into the shortest lenient UTF-8 form,
// using the 5/6-byte extension for code points beyond U+10FFFF.
func encodeOneUTF8Lenient(r rune) []byte {
	switch {
	case r < 0x80:
		return []byte{byte(r)}
	case r < 0x800:
		return []byte{
			0xC0 | byte(r>>6),
			0x80 | byte(r&0x3F),
		}
	case r < 0x10000:
		return []byte{
			0xE0 | byte(r>>12),
			0x80 | byte((r>>6)&0x3F),
			0x80 | byte(r&0x3F),
		}
	case r < 0x200000:
		return []byte{
			0xF0 | byte(r>>18),
			0x80 | byte((r>>12)&0x3F),
			0x80 | byte((r>>6)&0x3F),
			0x80 | byte(r&0x3F),
		}
	case r < 0x4000000:
		return []byte{
			0xF8 | byte(r>>24),
			0x80 | byte((r>>18)&0x3F),
			0x80 | byte((r>>12)&0x3F),
			0x80 | byte((r>>6)&0x3F),
			0x80 | byte(r&0x3F),
		}
	default:
		return []byte{
			0xFC | byte(r>>30),
			0x80 | byte((r>>24)&0x3F),
			0x80 | byte((r>>18)&0x3F),
			0x80 | byte((r>>12)&0x3F),
			0x80 | byte((r>>6)&0x3F),
			0x80 | byte(r&0x3F),
		}
	}
}
