package track

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrMalformedComment is returned when a Vorbis comment packet's length
// prefixes run past the end of the packet. Per spec section 7 (Parse
// errors), this must never abort ingest — callers skip the bad packet.
var ErrMalformedComment = errors.New("track: malformed vorbis comment packet")

var vorbisCommentSig = [7]byte{0x03, 'v', 'o', 'r', 'b', 'i', 's'}

// IsVorbisCommentPacket reports whether packet begins with the Vorbis
// comment header packet signature (type byte 0x03 + "vorbis").
func IsVorbisCommentPacket(packet []byte) bool {
	return len(packet) >= len(vorbisCommentSig) && bytes.Equal(packet[:len(vorbisCommentSig)], vorbisCommentSig[:])
}

// ParseVorbisComment extracts ARTIST/TITLE/ALBUM/TRACKNUMBER out of a
// Vorbis comment header packet (RFC: type byte, "vorbis", vendor-length +
// vendor string, comment-count, then length-prefixed "KEY=VALUE" entries)
// and returns the TrackInfo it describes.
func ParseVorbisComment(packet []byte) (*TrackInfo, error) {
	if !IsVorbisCommentPacket(packet) {
		return nil, ErrMalformedComment
	}
	off := len(vorbisCommentSig)

	vendorLen, off, err := readU32LenPrefixed(packet, off)
	if err != nil {
		return nil, err
	}
	off += vendorLen

	if off+4 > len(packet) {
		return nil, ErrMalformedComment
	}
	count := int(binary.LittleEndian.Uint32(packet[off : off+4]))
	off += 4

	info := &TrackInfo{HaveTrackInfo: true, SaveTrack: true, NewTrack: true}

	for i := 0; i < count; i++ {
		var entryLen int
		entryLen, off, err = readU32LenPrefixed(packet, off)
		if err != nil {
			return nil, err
		}
		if off+entryLen > len(packet) {
			return nil, ErrMalformedComment
		}
		entry := packet[off : off+entryLen]
		off += entryLen
		applyComment(info, entry)
	}

	info.ComposedMetadata = ComposeStreamTitle(info.Artist, info.Title)
	return info, nil
}

// readU32LenPrefixed reads a little-endian uint32 length at packet[off:]
// and returns the length plus the new offset (just past the length field).
func readU32LenPrefixed(packet []byte, off int) (length, newOff int, err error) {
	if off+4 > len(packet) {
		return 0, off, ErrMalformedComment
	}
	length = int(binary.LittleEndian.Uint32(packet[off : off+4]))
	newOff = off + 4
	if length < 0 || newOff+length > len(packet) {
		return 0, newOff, ErrMalformedComment
	}
	return length, newOff, nil
}

func applyComment(info *TrackInfo, entry []byte) {
	eq := -1
	for i, b := range entry {
		if b == '=' {
			eq = i
			break
		}
	}
	if eq < 0 {
		return
	}
	key := upperASCII(entry[:eq])
	value := string(entry[eq+1:])

	switch key {
	case "ARTIST":
		info.Artist = truncate(value, MaxTrackLen)
	case "TITLE":
		info.Title = truncate(value, MaxTrackLen)
	case "ALBUM":
		info.Album = truncate(value, MaxTrackLen)
	case "TRACKNUMBER":
		info.TrackNumber = truncate(value, MaxTrackLen)
	}
}

func upperASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
