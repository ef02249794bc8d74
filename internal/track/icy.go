package track

import "bytes"

// DecodeICYMetaFrame parses a raw ICY metadata frame — one length byte
// (units of 16) followed by 16*length bytes of text — and returns the
// TrackInfo it describes. A zero length byte means "no metadata change" and
// ok is false. Malformed StreamTitle text (missing the StreamTitle='...';
// wrapper) is treated the same way: a parse failure here must never
// interrupt audio flow, so the caller is expected to simply keep playing
// the previous TrackInfo.
func DecodeICYMetaFrame(lengthByte byte, body []byte) (info *TrackInfo, ok bool) {
	if lengthByte == 0 {
		return nil, false
	}
	text := bytes.TrimRight(body, "\x00")
	artist, title, parsed := ParseStreamTitle(text)
	if !parsed {
		return nil, false
	}
	return New(artist, title), true
}
