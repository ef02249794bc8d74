package writer

import (
	"fmt"
	"time"

	"github.com/fernwave/streamcore/internal/track"
)

// cueFramesPerSecond is the CD-standard subdivision cue sheets use for the
// frame component of MM:SS:FF timestamps.
const cueFramesPerSecond = 75

// writeCueEntry appends one TRACK/TITLE/PERFORMER/INDEX stanza to the cue
// file for the track currently starting, timestamped at the elapsed
// wall-clock time since Config.DateStamp (00:00:00 when DateStamp is zero).
// The number of bytes written to the show file is not used.
func (w *Writer) writeCueEntry(info *track.TrackInfo) {
	w.cueIndex++

	elapsed := time.Since(w.cfg.DateStamp)
	if w.cfg.DateStamp.IsZero() {
		elapsed = 0
	}

	fmt.Fprintf(w.cueFile, "  TRACK %02d AUDIO\n", w.cueIndex)
	if info != nil && info.Title != "" {
		fmt.Fprintf(w.cueFile, "    TITLE \"%s\"\n", info.Title)
	}
	if info != nil && info.Artist != "" {
		fmt.Fprintf(w.cueFile, "    PERFORMER \"%s\"\n", info.Artist)
	}
	fmt.Fprintf(w.cueFile, "    INDEX 01 %s\n", formatCueTimestamp(elapsed))
}

// formatCueTimestamp renders d as MM:SS:FF.
func formatCueTimestamp(d time.Duration) string {
	totalFrames := int64(d / (time.Second / cueFramesPerSecond))
	frames := totalFrames % cueFramesPerSecond
	totalSeconds := totalFrames / cueFramesPerSecond
	seconds := totalSeconds % 60
	minutes := totalSeconds / 60
	return fmt.Sprintf("%02d:%02d:%02d", minutes, seconds, frames)
}
