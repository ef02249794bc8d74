// Package track implements TrackInfo, the SHOUTcast ICY metadata-frame
// composer/parser, and the OGG Vorbis comment-packet parser that produces
// TrackInfo records for the OGG framer.
package track

import (
	"fmt"
	"strings"
)

// MaxTrackLen bounds each free-form TrackInfo field, matching the source
// project's MAX_TRACK_LEN.
const MaxTrackLen = 1024

// MaxMetaDataSize is the largest SHOUTcast metadata frame body, i.e. the
// largest value representable by one length byte counted in units of 16:
// 16 * 255 = 4080.
const MaxMetaDataSize = 4080

// TrackInfo is the structured record spec section 3 describes: free-form
// tag fields, a prebuilt ICY metadata frame, and writer/ingest hints.
type TrackInfo struct {
	Artist      string
	Title       string
	Album       string
	TrackNumber string

	// ComposedMetadata is the prebuilt SHOUTcast ICY frame: one length byte
	// (units of 16) followed by up to 16*length bytes of
	// "StreamTitle='…';", NUL-padded to the frame boundary.
	ComposedMetadata []byte

	HaveTrackInfo bool
	SaveTrack     bool
	NewTrack      bool
}

// New builds a TrackInfo from artist/title (the two fields SHOUTcast
// metadata actually carries) and precomputes ComposedMetadata.
func New(artist, title string) *TrackInfo {
	t := &TrackInfo{
		Artist:        truncate(artist, MaxTrackLen),
		Title:         truncate(title, MaxTrackLen),
		HaveTrackInfo: true,
		SaveTrack:     true,
		NewTrack:      true,
	}
	t.ComposedMetadata = ComposeStreamTitle(t.Artist, t.Title)
	return t
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// DisplayName renders the conventional "Artist - Title" form used for file
// naming and log lines.
func (t *TrackInfo) DisplayName() string {
	if t == nil {
		return ""
	}
	switch {
	case t.Artist != "" && t.Title != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	case t.Artist != "":
		return t.Artist
	default:
		return ""
	}
}

// ComposeStreamTitle builds a SHOUTcast ICY metadata frame body for the
// given artist/title pair: one length byte (units of 16) followed by
// 16*length bytes of "StreamTitle='artist - title';", NUL-padded.
func ComposeStreamTitle(artist, title string) []byte {
	streamTitle := fmt.Sprintf("StreamTitle='%s';", joinDisplay(artist, title))
	if len(streamTitle) > MaxMetaDataSize {
		streamTitle = streamTitle[:MaxMetaDataSize-2] + "';"
	}

	lengthByte := byte((len(streamTitle) + 15) / 16)
	frame := make([]byte, 1+16*int(lengthByte))
	frame[0] = lengthByte
	copy(frame[1:], streamTitle)
	return frame
}

func joinDisplay(artist, title string) string {
	artist = strings.ReplaceAll(artist, "'", "")
	title = strings.ReplaceAll(title, "'", "")
	switch {
	case artist != "" && title != "":
		return artist + " - " + title
	case title != "":
		return title
	default:
		return artist
	}
}

// NullMetadataFrame is the single zero-length byte SHOUTcast uses to mean
// "no metadata change this interval".
func NullMetadataFrame() []byte {
	return []byte{0}
}

// ParseStreamTitle extracts the artist/title pair out of a raw
// "StreamTitle='...';..." ICY metadata frame body (already stripped of the
// leading length byte and any trailing NUL padding). It splits on the first
// " - " since that's the only convention SHOUTcast metadata carries; if the
// separator is absent the whole string becomes Title.
func ParseStreamTitle(body []byte) (artist, title string, ok bool) {
	const prefix = "StreamTitle='"
	s := string(body)
	start := strings.Index(s, prefix)
	if start < 0 {
		return "", "", false
	}
	s = s[start+len(prefix):]
	end := strings.Index(s, "';")
	if end < 0 {
		return "", "", false
	}
	s = s[:end]

	if i := strings.Index(s, " - "); i >= 0 {
		return s[:i], s[i+3:], true
	}
	return "", s, true
}
