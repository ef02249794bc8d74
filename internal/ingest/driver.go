package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/fernwave/streamcore/internal/charset"
	"github.com/fernwave/streamcore/internal/oggframe"
	"github.com/fernwave/streamcore/internal/ring"
	"github.com/fernwave/streamcore/internal/track"
	"github.com/fernwave/streamcore/internal/writer"
)

// readBufSize is the nominal unit the driver reads OGG content in; it has
// no protocol significance beyond bounding one Read call's syscall size.
// Other metadata-less content is read one ring chunk at a time.
const readBufSize = 4096

// Config bundles Driver's construction parameters.
type Config struct {
	Source          Source
	Ring            *ring.Ring
	Writer          *writer.Writer
	RoleConfig      *charset.RoleConfig
	OverwritePolicy writer.OverwritePolicy
	Logger          *log.Logger
}

// Driver runs the ingest loop described in spec section 4.6: it reads from
// Source, splits ICY metadata out of MP3/AAC/NSV content (or feeds OGG
// bytes through an oggframe.Framer), inserts into Ring, and runs a writer
// pass after every insert that lands completed song extents on disk.
type Driver struct {
	cfg    Config
	logger *log.Logger

	framer    *oggframe.Framer
	framerPos int

	currentInfo *track.TrackInfo
	pendingInfo *track.TrackInfo

	// songBoundaryPending disambiguates "no boundary queued" from "boundary
	// queued at position 0" (the very first metadata announcement of a
	// stream lands at position 0, and Ring.NextSong alone can't tell those
	// two states apart).
	songBoundaryPending bool
}

// New constructs a Driver. For OGG sources it allocates the oggframe.Framer
// that will parse page boundaries out of the ingested bytes.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	d := &Driver{cfg: cfg, logger: logger}
	if cfg.Source.ContentType() == ring.ContentTypeOGG {
		d.framer = oggframe.New()
	}
	return d
}

// Run pumps bytes until ctx is cancelled or Source reports a fatal error
// (anything other than ErrTimeout). A cancelled context surfaces as
// ErrAborted, matching the distilled spec's cooperative-cancellation
// taxonomy.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ErrAborted
		default:
		}

		if err := d.ingestOne(ctx); err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return err
		}
		if err := d.writerPass(); err != nil {
			d.logger.Printf("ingest: writer pass error: %v", err)
		}
	}
}

func (d *Driver) ingestOne(ctx context.Context) error {
	if d.cfg.Source.ContentType() == ring.ContentTypeOGG {
		return d.ingestOGG(ctx)
	}
	if interval, ok := d.cfg.Source.MetaInterval(); ok {
		return d.ingestWithMetadata(ctx, interval)
	}
	return d.ingestPlain(ctx)
}

// ingestPlain handles content with no ICY metadata interleave (MP3 without
// metadata, AAC, NSV): read one ring-chunk-sized unit and insert it as-is.
func (d *Driver) ingestPlain(ctx context.Context) error {
	buf := make([]byte, d.cfg.Ring.ChunkSize())
	n, err := d.readExact(ctx, buf, true)
	if n > 0 {
		if insertErr := d.cfg.Ring.InsertChunk(buf[:n], nil, false); insertErr != nil {
			return insertErr
		}
	}
	return err
}

// ingestWithMetadata implements the MP3-with-ICY read cycle: metaInterval
// data bytes, one length byte, then 16*L metadata bytes.
func (d *Driver) ingestWithMetadata(ctx context.Context, metaInterval int) error {
	data := make([]byte, metaInterval)
	if _, err := d.readExact(ctx, data, false); err != nil {
		return err
	}

	lenByte := make([]byte, 1)
	if _, err := d.readExact(ctx, lenByte, false); err != nil {
		return err
	}

	var trackInfo *track.TrackInfo
	haveTrackInfo := false

	if length := int(lenByte[0]); length > 0 {
		meta := make([]byte, 16*length)
		if _, err := d.readExact(ctx, meta, false); err != nil {
			return err
		}
		if info, changed := d.parseMetadata(meta); changed {
			trackInfo = info
			haveTrackInfo = true
		}
	}

	if haveTrackInfo {
		// The title just announced takes effect at the start of the data
		// block just read, so that block already belongs to the new song.
		// Ring.InsertChunk records the metadata entry at the ring's count
		// before the insert, and the song boundary is set to the same
		// position, captured here before this insert.
		d.pendingInfo = trackInfo
		d.cfg.Ring.SetNextSong(d.cfg.Ring.Count())
		d.songBoundaryPending = true
	}

	return d.cfg.Ring.InsertChunk(data, trackInfo, haveTrackInfo)
}

// parseMetadata decodes a raw ICY metadata frame body (NUL-padded) into a
// TrackInfo, converting from the declared metadata-role charset to the
// locale-role charset for the in-memory record. It returns changed=false if the frame carries
// no StreamTitle or matches the currently playing track.
func (d *Driver) parseMetadata(raw []byte) (*track.TrackInfo, bool) {
	trimmed := trimNUL(raw)
	artistRaw, titleRaw, ok := track.ParseStreamTitle(trimmed)
	if !ok {
		return nil, false
	}

	rc := d.cfg.RoleConfig
	if rc == nil {
		rc = charset.NewRoleConfig()
	}

	artist, _ := rc.ConvertForRole(charset.RoleLocale, []byte(artistRaw))
	title, _ := rc.ConvertForRole(charset.RoleLocale, []byte(titleRaw))

	info := track.New(string(artist), string(title))
	if d.currentInfo != nil && d.currentInfo.DisplayName() == info.DisplayName() {
		return nil, false
	}
	return info, true
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// ingestOGG reads one buffer's worth of bytes, feeds it through the
// oggframe.Framer, translates the framer's own running byte count into
// ring-relative positions (the framer counts bytes since its own
// construction; the ring counts bytes since its current base, which moves
// forward on every eviction), and appends the resulting page markers and
// metadata events.
func (d *Driver) ingestOGG(ctx context.Context) error {
	buf := make([]byte, readBufSize)
	n, readErr := d.readExact(ctx, buf, true)
	if n == 0 {
		return readErr
	}
	chunk := buf[:n]

	framerPosBefore := d.framerPos
	pages, events, err := d.framer.Feed(chunk)
	if err != nil {
		return fmt.Errorf("ingest: ogg frame parse: %w", err)
	}
	d.framerPos = d.framer.StreamPos()

	countBeforeInsert := d.cfg.Ring.Count()
	toRingRelative := func(absolutePos int) int {
		return countBeforeInsert + (absolutePos - framerPosBefore)
	}

	if err := d.cfg.Ring.InsertChunk(chunk, nil, false); err != nil {
		return err
	}

	adjustedPages := make([]ring.PageMarker, len(pages))
	for i, p := range pages {
		p.PageStart = toRingRelative(p.PageStart)
		adjustedPages[i] = p
	}
	d.cfg.Ring.AppendPageMarkers(adjustedPages...)

	for _, ev := range events {
		d.pendingInfo = ev.Info
		d.cfg.Ring.SetNextSong(toRingRelative(ev.Position))
		d.songBoundaryPending = true
	}

	return readErr
}

// writerPass drains complete chunks (and, when a song boundary is pending,
// exactly the bytes up to it) from the ring into the track writer, per
// spec section 4.6's writer-pass description. A boundary is only acted on
// once it comes within one chunk's reach (nextSong <= chunkSize); until
// then, full chunks are drained first, same as the no-boundary case, so a
// boundary set far ahead of the current tail doesn't stall ordinary
// draining.
func (d *Driver) writerPass() error {
	for {
		chunkSize := d.cfg.Ring.ChunkSize()
		nextSong := d.cfg.Ring.NextSong()

		if d.songBoundaryPending && nextSong <= chunkSize {
			if nextSong > 0 {
				buf := make([]byte, nextSong)
				if _, err := d.cfg.Ring.Extract(buf, nextSong); err != nil {
					return err
				}
				if _, err := d.cfg.Writer.Write(buf); err != nil {
					d.logger.Printf("ingest: write error: %v", err)
				}
			}
			if _, err := d.cfg.Writer.End(d.currentInfo, d.cfg.OverwritePolicy, false); err != nil {
				d.logger.Printf("ingest: end track error: %v", err)
			}
			d.currentInfo = d.pendingInfo
			d.pendingInfo = nil
			d.songBoundaryPending = false
			if err := d.cfg.Writer.Start(d.currentInfo); err != nil {
				d.logger.Printf("ingest: start track error: %v", err)
			}
			continue
		}

		if d.cfg.Ring.Count() < chunkSize {
			return nil
		}

		buf := make([]byte, chunkSize)
		if _, err := d.cfg.Ring.Extract(buf, chunkSize); err != nil {
			if errors.Is(err, ring.ErrBufferEmpty) {
				return nil
			}
			return err
		}
		if _, err := d.cfg.Writer.Write(buf); err != nil {
			d.logger.Printf("ingest: write error: %v", err)
		}
	}
}

// readExact reads into buf until it is full, a fatal error occurs, or (when
// allowPartial is true) the source times out with at least one byte
// already in hand. When allowPartial is false, a timeout is retried rather
// than surfaced, so a structured multi-field read (data bytes, length
// byte, metadata bytes) never silently drops bytes already read into buf;
// ctx is still polled every retry so shutdown stays responsive.
func (d *Driver) readExact(ctx context.Context, buf []byte, allowPartial bool) (int, error) {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return total, ErrAborted
		default:
		}

		n, err := d.cfg.Source.Read(buf[total:], 5*time.Second)
		total += n
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				if allowPartial {
					if total > 0 {
						return total, nil
					}
					return total, err
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return total, err
			}
			return total, err
		}
	}
	return total, nil
}
