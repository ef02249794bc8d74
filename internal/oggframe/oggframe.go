// Package oggframe parses a raw OGG bitstream into the page markers the
// ring buffer and relay server need: page boundaries, BOS/EOS/secondary-
// header flags, a captured copy of the identification/comment/setup pages
// for late-joining relay clients, and TrackInfo records recovered from
// Vorbis comment packets.
package oggframe

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/fernwave/streamcore/internal/ring"
	"github.com/fernwave/streamcore/internal/track"
)

// errShortPage is returned internally (never surfaced to callers) when the
// scratch buffer doesn't yet hold a complete page; Feed simply waits for
// more data on the next call.
var errShortPage = errors.New("oggframe: incomplete page")

const pageHeaderLen = 27

// headerType bits, RFC 3533 section 6.
const (
	headerContinuation = 0x01
	headerBOS          = 0x02
	headerEOS          = 0x04
)

// MetadataEvent is a TrackInfo recovered from a logical stream's Vorbis
// comment packet, positioned at the byte offset where that stream's EOS page
// (its last page) starts.
type MetadataEvent struct {
	Position int
	Info     *track.TrackInfo
}

type streamState int

const (
	stateNeedBOS streamState = iota
	stateInHeaders
	stateInData
)

// Framer incrementally parses an OGG byte stream fed in arbitrary-sized
// extents via Feed. It tracks exactly one logical bitstream at a time,
// which matches a single SHOUTcast/Icecast OGG source: each track is its
// own chained logical stream (new serial, fresh BOS) rather than a
// multiplexed set of concurrent streams.
type Framer struct {
	scratch   []byte
	streamPos int

	state      streamState
	serial     uint32
	headerBuf  bytes.Buffer
	carry      []byte
	sawComment bool
	pending    *track.TrackInfo
}

// New returns a Framer ready to parse a fresh OGG stream from its first BOS
// page.
func New() *Framer {
	return &Framer{state: stateNeedBOS}
}

// StreamPos returns the total number of bytes this Framer has consumed
// across all Feed calls so far. Callers translate PageMarker.PageStart
// (which is relative to this running count) into ring-relative offsets
// using their own bookkeeping of how the fed bytes map onto the ring.
func (f *Framer) StreamPos() int { return f.streamPos }

// Feed parses as many complete pages as are available out of data,
// appended to any carried-over partial page from a previous call. It
// returns the page markers produced and any TrackInfo events recovered
// from completed header packets at the EOS page that closes their logical
// stream.
func (f *Framer) Feed(data []byte) ([]ring.PageMarker, []MetadataEvent, error) {
	if len(data) == 0 {
		return nil, nil, nil
	}
	f.scratch = append(f.scratch, data...)

	var pages []ring.PageMarker
	var events []MetadataEvent
	bosIdx := -1

	for {
		page, consumed, err := f.tryParsePage()
		if err != nil {
			if errors.Is(err, errShortPage) {
				break
			}
			return pages, events, err
		}
		if consumed == 0 {
			break
		}
		f.scratch = f.scratch[consumed:]
		f.streamPos += consumed

		marker, headerCopy, event := f.classify(page)
		if marker.BOS {
			bosIdx = len(pages)
		}
		pages = append(pages, marker)

		if headerCopy != nil {
			if bosIdx >= 0 {
				pages[bosIdx].OptionalHeaderCopy = headerCopy
			} else {
				// The BOS page that opened this header run was emitted in
				// an earlier Feed call, outside this batch's slice; attach
				// to the page that closed the run instead of losing the
				// captured bytes.
				pages[len(pages)-1].OptionalHeaderCopy = headerCopy
			}
			bosIdx = -1
		}
		if event != nil {
			events = append(events, *event)
		}
	}
	return pages, events, nil
}

// parsedPage is the raw decoded page before classification into a
// ring.PageMarker (which only carries the fields the ring/relay need).
type parsedPage struct {
	start      int
	len        int
	headerType byte
	serial     uint32
	segTable   []byte
	payload    []byte
}

// tryParsePage attempts to decode one page at the front of f.scratch,
// resyncing past stray bytes first. It returns an empty page, zero
// consumed count and errShortPage if nothing more can be decoded without
// more input.
func (f *Framer) tryParsePage() (parsedPage, int, error) {
	for len(f.scratch) > 0 && !bytes.HasPrefix(f.scratch, []byte("OggS")) {
		if idx := bytes.Index(f.scratch[1:], []byte("OggS")); idx >= 0 {
			skip := idx + 1
			f.scratch = f.scratch[skip:]
			f.streamPos += skip
		} else {
			skip := len(f.scratch)
			f.scratch = nil
			f.streamPos += skip
			return parsedPage{}, 0, errShortPage
		}
	}

	if len(f.scratch) < pageHeaderLen {
		return parsedPage{}, 0, errShortPage
	}

	pageSegments := int(f.scratch[26])
	if len(f.scratch) < pageHeaderLen+pageSegments {
		return parsedPage{}, 0, errShortPage
	}
	segTable := f.scratch[pageHeaderLen : pageHeaderLen+pageSegments]

	payloadLen := 0
	for _, s := range segTable {
		payloadLen += int(s)
	}
	pageLen := pageHeaderLen + pageSegments + payloadLen
	if len(f.scratch) < pageLen {
		return parsedPage{}, 0, errShortPage
	}

	headerType := f.scratch[5]
	serial := binary.LittleEndian.Uint32(f.scratch[14:18])
	payload := f.scratch[pageHeaderLen+pageSegments : pageLen]

	return parsedPage{
		start:      f.streamPos,
		len:        pageLen,
		headerType: headerType,
		serial:     serial,
		segTable:   segTable,
		payload:    payload,
	}, pageLen, nil
}

// classify folds a decoded page into the current logical-stream state
// machine (NeedBOS -> InHeaders -> InData -> NeedBOS on EOS), producing the
// PageMarker the ring records and, at EOS, a MetadataEvent if a Vorbis
// comment packet was recovered during this stream's header run. When the
// page closes out a header run, the captured setup-header copy is returned
// separately rather than attached to this page's own marker: Feed attaches
// it to the run's BOS marker instead, since that's the page InitRelayEntry
// anchors on for late-joining relay clients.
func (f *Framer) classify(p parsedPage) (ring.PageMarker, []byte, *MetadataEvent) {
	isBOS := p.headerType&headerBOS != 0
	isEOS := p.headerType&headerEOS != 0

	if isBOS {
		f.state = stateInHeaders
		f.serial = p.serial
		f.headerBuf.Reset()
		f.carry = nil
		f.sawComment = false
		f.pending = nil
	}

	secondaryHeader := f.state == stateInHeaders && !isBOS

	marker := ring.PageMarker{
		PageStart:       p.start,
		PageLen:         p.len,
		BOS:             isBOS,
		EOS:             isEOS,
		SecondaryHeader: secondaryHeader,
	}

	if f.state == stateInHeaders {
		f.headerBuf.Write(p.payload)
		f.collectHeaderPackets(p)
	}

	var headerCopy []byte
	if isBOS {
		// Header run has at least started; the copy is finalized once it
		// stops growing, i.e. when the page closing the run is reached.
	} else if f.state == stateInHeaders && !f.headerRunContinues(p) {
		f.state = stateInData
		headerCopy = make([]byte, f.headerBuf.Len())
		copy(headerCopy, f.headerBuf.Bytes())
	}

	var event *MetadataEvent
	if isEOS {
		if f.pending != nil {
			event = &MetadataEvent{Position: p.start, Info: f.pending}
		}
		f.pending = nil
		f.state = stateNeedBOS
	}

	return marker, headerCopy, event
}

// headerRunContinues reports whether page p is still part of the header
// run. The run ends with the first page processed after the Vorbis comment
// packet has completed with no partial packet carried over; packet type
// bytes are not inspected. A Vorbis setup-header packet that starts on a
// later page is therefore not part of the run: that page is not flagged as
// a secondary header and is not included in the header copy.
func (f *Framer) headerRunContinues(p parsedPage) bool {
	return !f.sawComment || f.carry != nil
}

// collectHeaderPackets reassembles packets out of p's lacing table and, the
// first time a complete Vorbis comment packet is seen, parses it into a
// pending TrackInfo to be emitted at this logical stream's EOS.
func (f *Framer) collectHeaderPackets(p parsedPage) {
	pkt := f.carry
	f.carry = nil
	offset := 0

	for _, lace := range p.segTable {
		size := int(lace)
		if size > 0 {
			pkt = append(pkt, p.payload[offset:offset+size]...)
			offset += size
		}
		if lace < 255 {
			if !f.sawComment && track.IsVorbisCommentPacket(pkt) {
				if info, err := track.ParseVorbisComment(pkt); err == nil {
					f.pending = info
				}
				f.sawComment = true
			}
			pkt = nil
		}
	}
	f.carry = pkt
}
