package ring

import "github.com/fernwave/streamcore/internal/track"

// RelayClient is the subset of per-client send state InitRelayEntry and
// ExtractRelay need. internal/relay.Client satisfies this in addition to
// the plain Client interface above.
type RelayClient interface {
	Client
	// WantsICY reports whether the client requested in-band SHOUTcast
	// metadata (Icy-MetaData: 1).
	WantsICY() bool
	// SetOffset sets the client's ring-relative read position directly,
	// bypassing the delta-based AdjustOffset used during eviction.
	SetOffset(pos int)
	// SetHeaderBuf stores a captured OGG header copy to be drained by
	// ExtractRelay before any ring bytes are sent. A nil buf clears it.
	SetHeaderBuf(buf []byte)
}

// InitRelayEntry decides a newly accepted relay client's starting
// RingOffset (and, for OGG, its pending header buffer) so the first bytes
// it receives land on a safe framing boundary. For chunked content the
// start is count-burstRequest (floored at 0) rounded down to a multiple of
// the chunk size, so it can lie up to one chunk more than burstRequest
// behind the write position. For OGG the start is the latest BOS page at or
// after count-burstRequest, or the first page in the ring if there is none.
func (r *Ring) InitRelayEntry(client RelayClient, burstRequest int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.contentType == ContentTypeOGG {
		return r.initRelayEntryOGG(client, burstRequest)
	}
	return r.initRelayEntryChunked(client, burstRequest)
}

func (r *Ring) initRelayEntryChunked(client RelayClient, burstRequest int) error {
	start := r.count - burstRequest
	if start < 0 {
		start = 0
	}
	start -= start % r.chunkSize
	client.SetOffset(start)
	return nil
}

func (r *Ring) initRelayEntryOGG(client RelayClient, burstRequest int) error {
	if len(r.pages) == 0 {
		return ErrNoOGGPagesForRelay
	}
	windowStart := r.count - burstRequest
	if windowStart < 0 {
		windowStart = 0
	}

	var anchor *PageMarker
	for i := range r.pages {
		p := &r.pages[i]
		if p.SecondaryHeader {
			continue
		}
		if !p.BOS {
			continue
		}
		if p.PageStart < windowStart {
			continue
		}
		anchor = p
	}
	if anchor == nil {
		// No BOS page falls inside the burst window; fall back to the
		// earliest page still in the ring so the client at least gets a
		// contiguous, if longer, burst instead of failing outright.
		anchor = &r.pages[0]
	}

	client.SetOffset(anchor.PageStart)
	if len(anchor.OptionalHeaderCopy) > 0 {
		headerCopy := make([]byte, len(anchor.OptionalHeaderCopy))
		copy(headerCopy, anchor.OptionalHeaderCopy)
		client.SetHeaderBuf(headerCopy)
	}
	return nil
}

// ExtractRelay fills dst (the client's send buffer) per spec section 4.1's
// ExtractRelay rules and returns the number of bytes placed in dst
// (LeftToSend). headerBuf/headerOffset represent the client's pending OGG
// header-copy state, if any; callers pass the client's own HeaderBuf slice
// and current offset into it and receive back the new offset and whether
// the header buffer is now exhausted (and should be cleared).
func (r *Ring) ExtractRelay(dst []byte, offset int, wantsICY bool, headerBuf []byte, headerOffset int) (n int, newHeaderOffset int, headerDone bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(headerBuf) > 0 && headerOffset < len(headerBuf) {
		n = copy(dst, headerBuf[headerOffset:])
		newHeaderOffset = headerOffset + n
		headerDone = newHeaderOffset >= len(headerBuf)
		return n, newHeaderOffset, headerDone, nil
	}

	switch r.contentType {
	case ContentTypeOGG:
		return r.extractRelayOGG(dst, offset)
	default:
		if wantsICY && r.contentType == ContentTypeMP3 {
			return r.extractRelayMP3ICY(dst, offset)
		}
		return r.extractRelayChunk(dst, offset)
	}
}

func (r *Ring) extractRelayChunk(dst []byte, offset int) (int, int, bool, error) {
	if offset+r.chunkSize > r.count {
		return 0, 0, false, ErrBufferEmpty
	}
	if err := r.peekRegionLocked(dst[:r.chunkSize], offset); err != nil {
		return 0, 0, false, err
	}
	return r.chunkSize, 0, false, nil
}

// extractRelayMP3ICY emits one chunk of audio followed by an ICY metadata
// frame. The frame carries composed_metadata only for the single chunk
// whose range [offset, offset+chunkSize) contains the TrackInfo's recorded
// position; every other chunk gets the null frame, so a track change is
// announced to a given client exactly once.
func (r *Ring) extractRelayMP3ICY(dst []byte, offset int) (int, int, bool, error) {
	if offset+r.chunkSize > r.count {
		return 0, 0, false, ErrBufferEmpty
	}
	if err := r.peekRegionLocked(dst[:r.chunkSize], offset); err != nil {
		return 0, 0, false, err
	}
	n := r.chunkSize

	var frame []byte
	if info := r.trackInfoAt(offset, r.chunkSize); info != nil && len(info.ComposedMetadata) > 0 {
		frame = info.ComposedMetadata
	} else {
		frame = track.NullMetadataFrame()
	}
	n += copy(dst[n:], frame)
	return n, 0, false, nil
}

func (r *Ring) extractRelayOGG(dst []byte, offset int) (int, int, bool, error) {
	avail := r.count - offset
	if avail <= 0 {
		return 0, 0, false, ErrBufferEmpty
	}
	n := len(dst)
	if n > avail {
		n = avail
	}
	if err := r.peekRegionLocked(dst[:n], offset); err != nil {
		return 0, 0, false, err
	}
	return n, 0, false, nil
}
