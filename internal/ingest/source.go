// Package ingest pumps bytes from an upstream stream source into a Ring,
// splitting ICY in-band metadata out of the data for MP3/AAC/NSV sources
// and feeding OGG bytes through an oggframe.Framer, then runs the writer
// pass that turns completed song extents into files.
package ingest

import (
	"errors"
	"time"

	"github.com/fernwave/streamcore/internal/ring"
)

// ErrTimeout is returned by Source.Read when no bytes arrived within the
// requested timeout — expected, non-fatal flow control, matching spec
// section 7's network-transient error kind.
var ErrTimeout = errors.New("ingest: read timeout")

// ErrAborted is returned by Source.Read when the caller's shutdown signal
// fired while a read was pending, the Go equivalent of the distilled
// spec's abort-pipe-interrupted select.
var ErrAborted = errors.New("ingest: aborted")

// Source is the external collaborator boundary spec section 4.6 describes:
// whatever obtains and classifies the upstream SHOUTcast/Icecast/Ultravox
// connection. This package only consumes it.
type Source interface {
	// Read blocks until at least one byte is available, timeout elapses
	// (returning ErrTimeout), the source aborts (ErrAborted), or the
	// upstream closes (io.EOF).
	Read(buf []byte, timeout time.Duration) (int, error)
	// MetaInterval returns the number of data bytes between ICY metadata
	// frames and whether the upstream advertises one at all.
	MetaInterval() (int, bool)
	// ContentType reports the framing of the bytes Read returns.
	ContentType() ring.ContentType
}
