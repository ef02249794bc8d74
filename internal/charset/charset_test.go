package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindIsCaseInsensitiveAndAliased(t *testing.T) {
	cs, ok := Find("UTF-8")
	require.True(t, ok)
	assert.Equal(t, UTF8, cs)

	cs, ok = Find("ansi_x3.4-1968")
	require.True(t, ok)
	assert.Equal(t, ASCII, cs)

	cs, ok = Find("  Latin1 ")
	require.True(t, ok)
	assert.Equal(t, ISO8859_1, cs)

	_, ok = Find("klingon-7")
	assert.False(t, ok)
}

func TestDecodeOneASCIIRejectsHighBit(t *testing.T) {
	_, _, err := DecodeOne(ASCII, []byte{0x80})
	assert.ErrorIs(t, err, ErrInvalidByte)

	r, size, err := DecodeOne(ASCII, []byte{'A'})
	require.NoError(t, err)
	assert.Equal(t, rune('A'), r)
	assert.Equal(t, 1, size)
}

func TestDecodeOneUTF8LenientSixByteForm(t *testing.T) {
	// The 6-byte lead 0xFC, five continuation bytes, encodes a code point
	// beyond the RFC 3629 ceiling that a strict decoder would reject.
	b := []byte{0xFC, 0x84, 0x80, 0x80, 0x80, 0x80}
	r, size, err := decodeOneUTF8Lenient(b)
	require.NoError(t, err)
	assert.Equal(t, 6, size)
	assert.Equal(t, rune(0x4000000), r)
}

func TestUTF8LenientRejectsOverlongEncoding(t *testing.T) {
	// 0xC0 0x80 is an overlong encoding of NUL.
	_, _, err := decodeOneUTF8Lenient([]byte{0xC0, 0x80})
	assert.ErrorIs(t, err, ErrInvalidByte)
}

func TestUTF8LenientRejectsRetiredLeadBytes(t *testing.T) {
	_, _, err := decodeOneUTF8Lenient([]byte{0xFE})
	assert.ErrorIs(t, err, ErrInvalidByte)

	_, _, err = decodeOneUTF8Lenient([]byte{0xFF})
	assert.ErrorIs(t, err, ErrInvalidByte)
}

func TestUTF8LenientRoundTrip(t *testing.T) {
	for _, r := range []rune{'A', 0x7FF, 0x10000, 0x200001} {
		encoded := encodeOneUTF8Lenient(r)
		decoded, size, err := decodeOneUTF8Lenient(encoded)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), size)
		assert.Equal(t, r, decoded)
	}
}

func TestISO8859_1RoundTrip(t *testing.T) {
	r, size, err := DecodeOne(ISO8859_1, []byte{0xE9}) // é
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	assert.Equal(t, 'é', r)

	enc := EncodeOne(ISO8859_1, 'é')
	assert.Equal(t, []byte{0xE9}, enc)
}

func TestUTF16SurrogatePairRoundTrip(t *testing.T) {
	const r = rune(0x1F600) // outside the BMP, needs a surrogate pair
	enc := encodeOneUTF16(r)
	assert.Len(t, enc, 4)

	decoded, size, err := decodeOneUTF16(enc)
	require.NoError(t, err)
	assert.Equal(t, 4, size)
	assert.Equal(t, r, decoded)
}

func TestUTF16BMPRoundTrip(t *testing.T) {
	enc := encodeOneUTF16('A')
	assert.Len(t, enc, 2)

	decoded, size, err := decodeOneUTF16(enc)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
	assert.Equal(t, rune('A'), decoded)
}

func TestConvertExact(t *testing.T) {
	out, kind := Convert(UTF8, ISO8859_1, []byte("caf\xc3\xa9")) // "café" in UTF-8
	require.Equal(t, ConvertExact, kind)
	assert.Equal(t, []byte("caf\xe9"), out)
}

func TestConvertLossyReplacesUnrepresentableRunes(t *testing.T) {
	// U+4E2D (中) has no ISO-8859-1 representation.
	out, kind := Convert(UTF8, ISO8859_1, []byte("\xe4\xb8\xad"))
	assert.Equal(t, ConvertLossy, kind)
	assert.Equal(t, []byte("?"), out)
}

func TestConvertInvalidInputReplacesBadBytes(t *testing.T) {
	out, kind := Convert(ASCII, UTF8, []byte{'A', 0x80, 'B'})
	assert.Equal(t, ConvertInvalidInput, kind)
	assert.Equal(t, []byte("A#B"), out)
}

func TestConvertUnknownCharsetPassesThrough(t *testing.T) {
	input := []byte("hello")
	out, kind := Convert(Unknown, UTF8, input)
	assert.Equal(t, ConvertUnknown, kind)
	assert.Equal(t, input, out)
}

func TestRoleConfigDefaultsToUTF8AndConvertsForRole(t *testing.T) {
	rc := NewRoleConfig()
	assert.Equal(t, UTF8, rc.Charset(RoleFilesystem))

	rc.Set(RoleMetadata, ISO8859_1)
	rc.Set(RoleFilesystem, UTF8)

	out, kind := rc.ConvertForRole(RoleFilesystem, []byte("caf\xe9"))
	require.Equal(t, ConvertExact, kind)
	assert.Equal(t, []byte("caf\xc3\xa9"), out)
}
