package writer

import (
	"fmt"
	"strings"

	"github.com/fernwave/streamcore/internal/track"
)

// expandPattern renders w.cfg.Pattern against info, substituting each
// escape and scrubbing the whole result for filesystem safety. %q is a
// per-writer auto-incrementing counter so two tracks with identical
// metadata never collide.
func (w *Writer) expandPattern(info *track.TrackInfo) string {
	pattern := w.cfg.Pattern
	if pattern == "" {
		pattern = "%A - %T"
	}

	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i+1 >= len(pattern) {
			b.WriteByte(c)
			continue
		}
		i++
		switch pattern[i] {
		case 'A':
			b.WriteString(fieldOrDefault(info.Artist, "Unknown Artist"))
		case 'T':
			b.WriteString(fieldOrDefault(info.Title, "Unknown Title"))
		case 'a':
			b.WriteString(fieldOrDefault(info.Album, "Unknown Album"))
		case 'S':
			b.WriteString(fieldOrDefault(w.cfg.ICYName, "stream"))
		case 'd':
			if !w.cfg.DateStamp.IsZero() {
				b.WriteString(w.cfg.DateStamp.Format("2006-01-02"))
			}
		case 'q':
			fmt.Fprintf(&b, "%04d", w.count)
		case 'N':
			b.WriteString(fieldOrDefault(info.TrackNumber, fmt.Sprintf("%03d", w.trackNo)))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}

	return sanitizePathSegment(b.String())
}

func fieldOrDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
