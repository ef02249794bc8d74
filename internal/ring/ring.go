// Package ring implements the content-addressed circular buffer that sits
// between the upstream ingest goroutine and every downstream consumer: the
// track writer and any number of relay clients.
//
// A Ring owns exactly one writer and any number of readers. Writers hold the
// Ring's mutex for the duration of a call; readers never retain a pointer
// into the backing array across calls. Eviction (advancing the base) is
// monotonic and adjusts every registered relay client's read offset, so a
// client that falls too far behind is reported back to the caller instead
// of being silently corrupted.
package ring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fernwave/streamcore/internal/track"
)

// ContentType identifies the framing of the bytes flowing through a Ring.
type ContentType int

const (
	ContentTypeUnknown ContentType = iota
	ContentTypeMP3
	ContentTypeAAC
	ContentTypeNSV
	ContentTypeOGG
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeMP3:
		return "mp3"
	case ContentTypeAAC:
		return "aac"
	case ContentTypeNSV:
		return "nsv"
	case ContentTypeOGG:
		return "ogg"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidParam is returned by New when chunkSize or numChunks is 0.
	ErrInvalidParam = errors.New("ring: invalid parameter")
	// ErrBufferFull is returned by InsertChunk when there isn't enough free
	// space for the write. The ring is left entirely unchanged.
	ErrBufferFull = errors.New("ring: buffer full")
	// ErrBufferEmpty is returned by Extract/Peek/FastForward when the
	// requested count exceeds the number of valid bytes.
	ErrBufferEmpty = errors.New("ring: buffer empty")
	// ErrNoOGGPagesForRelay is returned by InitRelayEntry for OGG content
	// when the ring's page list is empty, so there is no page to anchor a
	// burst on.
	ErrNoOGGPagesForRelay = errors.New("ring: no OGG page boundary available for relay burst")
)

// trackInfoEntry associates a TrackInfo with the ring-relative position at
// which it becomes visible to consumers.
type trackInfoEntry struct {
	Position int
	Info     *track.TrackInfo
}

// Client is the subset of relay-client state the Ring needs to keep
// per-consumer read offsets consistent across eviction. internal/relay.Client
// implements this.
type Client interface {
	// Offset returns the client's current ring-relative read position.
	Offset() int
	// AdjustOffset shifts the client's read position by delta (always
	// negative, called once per eviction).
	AdjustOffset(delta int)
	// MarkTooSlow is called when the client's offset would go negative,
	// i.e. bytes it hasn't read yet have been evicted out from under it.
	MarkTooSlow()
}

// Ring is the fixed-size byte buffer described in spec section 4.1. mu
// guards every field below it: base, count, nextSong, the metadata list,
// the page list, and the client list are all mutated from more than one
// goroutine (the ingest goroutine, and the relay's accept and send
// goroutines), so every exported Ring method acquires mu on entry and
// releases it on return, matching the teacher's semaphore-as-mutex
// discipline.
type Ring struct {
	mu sync.Mutex

	buf         []byte
	size        int
	chunkSize   int
	base        int
	count       int
	nextSong    int
	contentType ContentType
	haveRelay   bool

	metadata []trackInfoEntry
	pages    []PageMarker

	clients []Client

	onEvictTrackInfo func(*track.TrackInfo)
}

// PageMarker mirrors spec section 3's OGG page-list entry. It is defined
// here (rather than in internal/oggframe) because the Ring owns the page
// list and must shift page_start on eviction; internal/oggframe only
// produces PageMarker values.
type PageMarker struct {
	PageStart         int
	PageLen           int
	BOS               bool
	EOS               bool
	SecondaryHeader   bool
	OptionalHeaderCopy []byte
}

// New allocates a Ring of chunkSize*numChunks bytes.
func New(contentType ContentType, haveRelay bool, chunkSize, numChunks int) (*Ring, error) {
	if chunkSize <= 0 || numChunks <= 0 {
		return nil, fmt.Errorf("%w: chunkSize=%d numChunks=%d", ErrInvalidParam, chunkSize, numChunks)
	}
	return &Ring{
		buf:         make([]byte, chunkSize*numChunks),
		size:        chunkSize * numChunks,
		chunkSize:   chunkSize,
		contentType: contentType,
		haveRelay:   haveRelay,
	}, nil
}

// OnEvictTrackInfo registers a callback invoked with each TrackInfo value
// immediately before it's dropped from the metadata list during eviction,
// giving the track writer a chance to consume it first.
func (r *Ring) OnEvictTrackInfo(fn func(*track.TrackInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvictTrackInfo = fn
}

// ChunkSize returns the fixed chunk granularity passed to New. Relay burst
// anchoring for MP3/AAC/NSV content rounds down to this boundary.
func (r *Ring) ChunkSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunkSize
}

// Size returns the fixed capacity of the ring in bytes.
func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Count returns the number of valid bytes currently held.
func (r *Ring) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// FreeBytes returns size - count.
func (r *Ring) FreeBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freeBytesLocked()
}

func (r *Ring) freeBytesLocked() int { return r.size - r.count }

// WriteIndex returns (base + count) mod size.
func (r *Ring) WriteIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeIndexLocked()
}

func (r *Ring) writeIndexLocked() int {
	return (r.base + r.count) % r.size
}

// FreeTail returns the number of bytes writable before the write index
// would need to wrap around.
func (r *Ring) FreeTail() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	free := r.freeBytesLocked()
	tail := r.size - r.writeIndexLocked()
	if tail < free {
		return tail
	}
	return free
}

// NextSong returns the current ring-relative song-boundary marker.
func (r *Ring) NextSong() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextSong
}

// SetNextSong sets the ring-relative position at which the next Extract call
// should report a song boundary.
func (r *Ring) SetNextSong(pos int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSong = pos
}

// RegisterClient adds a relay client whose offset will be tracked across
// evictions. Callers must not register the same client twice.
func (r *Ring) RegisterClient(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = append(r.clients, c)
}

// UnregisterClient stops tracking a relay client's offset, e.g. after
// disconnect.
func (r *Ring) UnregisterClient(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.clients {
		if existing == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return
		}
	}
}

// InsertChunk appends exactly len(data) bytes to the ring. If haveTrackInfo
// is true and trackInfo is non-nil, a metadata-list entry is recorded at the
// ring-relative position of the first inserted byte (the count before the
// insert) before the bytes are copied in. For OGG content the caller is
// expected to separately feed the written extent to an oggframe.Framer and
// append any resulting PageMarkers via AppendPageMarkers — the Ring itself
// does not import internal/oggframe, because oggframe imports this package
// for PageMarker and the reverse import would be a cycle.
func (r *Ring) InsertChunk(data []byte, trackInfo *track.TrackInfo, haveTrackInfo bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(data) > r.freeBytesLocked() {
		return fmt.Errorf("%w: need %d have %d", ErrBufferFull, len(data), r.freeBytesLocked())
	}
	if haveTrackInfo && trackInfo != nil {
		r.metadata = append(r.metadata, trackInfoEntry{Position: r.count, Info: trackInfo})
	}

	writeIdx := r.writeIndexLocked()
	n := len(data)
	if writeIdx+n <= r.size {
		copy(r.buf[writeIdx:], data)
	} else {
		firstPart := r.size - writeIdx
		copy(r.buf[writeIdx:], data[:firstPart])
		copy(r.buf[0:], data[firstPart:])
	}
	r.count += n
	return nil
}

// AppendPageMarkers appends OGG page markers produced by an external framer
// for bytes just written via InsertChunk. page_start values must already be
// ring-relative to the base at insertion time.
func (r *Ring) AppendPageMarkers(pages ...PageMarker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, pages...)
}

// Pages returns a copy of the current page list, ring-relative to the
// current base. Safe to retain past the next mutating call, unlike a
// direct slice into Ring's own state would be.
func (r *Ring) Pages() []PageMarker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PageMarker, len(r.pages))
	copy(out, r.pages)
	return out
}

// trackInfoAt returns the TrackInfo whose Position falls within the chunk
// starting at offset (i.e. offset <= Position < offset+chunkSize), or nil
// if no metadata entry lands in that chunk. Callers must hold r.mu.
func (r *Ring) trackInfoAt(offset, chunkSize int) *track.TrackInfo {
	for _, e := range r.metadata {
		if e.Position < offset {
			continue
		}
		if e.Position >= offset+chunkSize {
			break
		}
		return e.Info
	}
	return nil
}

// Extract copies countReq oldest bytes into buf (which must have length
// countReq), advances the base, and returns the pre-extraction next-song
// marker.
func (r *Ring) Extract(buf []byte, countReq int) (currSong int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if countReq > r.count {
		return 0, fmt.Errorf("%w: requested %d have %d", ErrBufferEmpty, countReq, r.count)
	}
	r.copyOut(buf, countReq)
	currSong = r.nextSong
	r.advanceBase(countReq)
	return currSong, nil
}

// Peek copies countReq oldest bytes into buf without advancing the ring.
func (r *Ring) Peek(buf []byte, countReq int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if countReq > r.count {
		return fmt.Errorf("%w: requested %d have %d", ErrBufferEmpty, countReq, r.count)
	}
	r.copyOut(buf, countReq)
	return nil
}

// PeekRegion reads len(buf) bytes starting at ring-offset startOffset,
// without disturbing base/count. startOffset+len(buf) must not exceed
// count.
func (r *Ring) PeekRegion(buf []byte, startOffset int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peekRegionLocked(buf, startOffset)
}

func (r *Ring) peekRegionLocked(buf []byte, startOffset int) error {
	length := len(buf)
	if startOffset < 0 || startOffset+length > r.count {
		return fmt.Errorf("%w: region [%d,%d) exceeds count %d", ErrBufferEmpty, startOffset, startOffset+length, r.count)
	}
	start := (r.base + startOffset) % r.size
	if start+length <= r.size {
		copy(buf, r.buf[start:start+length])
	} else {
		firstPart := r.size - start
		copy(buf[:firstPart], r.buf[start:])
		copy(buf[firstPart:], r.buf[:length-firstPart])
	}
	return nil
}

// FastForward discards countReq oldest bytes without copying them out.
func (r *Ring) FastForward(countReq int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fastForwardLocked(countReq)
}

func (r *Ring) fastForwardLocked(countReq int) error {
	if countReq > r.count {
		return fmt.Errorf("%w: requested %d have %d", ErrBufferEmpty, countReq, r.count)
	}
	r.advanceBase(countReq)
	return nil
}

// AdvanceOGG repeatedly fast-forwards whole OGG pages until at least
// neededFree bytes are free, always landing on a page boundary. EOS page
// markers that are evicted have their captured header copy released.
func (r *Ring) AdvanceOGG(neededFree int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.freeBytesLocked() < neededFree {
		if len(r.pages) == 0 {
			return fmt.Errorf("%w: no page boundary to advance to", ErrBufferEmpty)
		}
		next := r.pages[0]
		pageEnd := next.PageStart + next.PageLen
		if pageEnd > r.count {
			return fmt.Errorf("%w: page extends past count", ErrBufferEmpty)
		}
		if err := r.fastForwardLocked(pageEnd); err != nil {
			return err
		}
	}
	return nil
}

func (r *Ring) copyOut(buf []byte, countReq int) {
	start := r.base
	if start+countReq <= r.size {
		copy(buf, r.buf[start:start+countReq])
	} else {
		firstPart := r.size - start
		copy(buf[:firstPart], r.buf[start:])
		copy(buf[firstPart:], r.buf[:countReq-firstPart])
	}
}

// advanceBase moves the base forward by n bytes, adjusts the song-boundary
// marker, evicts metadata/page entries that fall below the new base, and
// shifts every registered client's offset, calling MarkTooSlow on any whose
// offset goes negative.
func (r *Ring) advanceBase(n int) {
	r.base = (r.base + n) % r.size
	r.count -= n

	if r.nextSong > 0 {
		r.nextSong -= n
		if r.nextSong < 0 {
			r.nextSong = 0
		}
	}

	r.evictMetadata(n)
	r.evictPages(n)

	// Section 9 Open Question #1: when haveRelay is true and there are no
	// registered clients, this loop simply has nothing to range over. That
	// is the intended, preserved no-op.
	for _, c := range r.clients {
		c.AdjustOffset(-n)
		if c.Offset() < 0 {
			c.MarkTooSlow()
		}
	}
}

func (r *Ring) evictMetadata(n int) {
	cut := 0
	for cut < len(r.metadata) && r.metadata[cut].Position < n {
		if r.onEvictTrackInfo != nil {
			r.onEvictTrackInfo(r.metadata[cut].Info)
		}
		cut++
	}
	if cut == 0 {
		for i := range r.metadata {
			r.metadata[i].Position -= n
		}
		return
	}
	remaining := r.metadata[cut:]
	shifted := make([]trackInfoEntry, len(remaining))
	for i, e := range remaining {
		shifted[i] = trackInfoEntry{Position: e.Position - n, Info: e.Info}
	}
	r.metadata = shifted
}

func (r *Ring) evictPages(n int) {
	cut := 0
	for cut < len(r.pages) && r.pages[cut].PageStart < n {
		cut++
	}
	if cut == 0 {
		for i := range r.pages {
			r.pages[i].PageStart -= n
		}
		return
	}
	remaining := r.pages[cut:]
	shifted := make([]PageMarker, len(remaining))
	for i, p := range remaining {
		p.PageStart -= n
		shifted[i] = p
	}
	r.pages = shifted
}
