package ring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwave/streamcore/internal/track"
)

func TestNewRejectsZeroDimensions(t *testing.T) {
	_, err := New(ContentTypeMP3, false, 0, 4)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = New(ContentTypeMP3, false, 4, 0)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestInsertAndExtractRoundTrip(t *testing.T) {
	r, err := New(ContentTypeMP3, false, 4, 4)
	require.NoError(t, err)

	require.NoError(t, r.InsertChunk([]byte("abcd"), nil, false))
	require.NoError(t, r.InsertChunk([]byte("efgh"), nil, false))
	assert.Equal(t, 8, r.Count())
	assert.Equal(t, 8, r.FreeBytes())

	buf := make([]byte, 4)
	_, err = r.Extract(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf))
	assert.Equal(t, 4, r.Count())
}

func TestInsertChunkFailsWhenFull(t *testing.T) {
	r, err := New(ContentTypeMP3, false, 4, 2)
	require.NoError(t, err)

	require.NoError(t, r.InsertChunk(make([]byte, 8), nil, false))
	err = r.InsertChunk([]byte("x"), nil, false)
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestExtractFailsWhenEmpty(t *testing.T) {
	r, err := New(ContentTypeMP3, false, 4, 2)
	require.NoError(t, err)

	_, err = r.Extract(make([]byte, 4), 4)
	assert.ErrorIs(t, err, ErrBufferEmpty)
}

func TestWrapAroundPreservesByteOrder(t *testing.T) {
	r, err := New(ContentTypeMP3, false, 4, 2)
	require.NoError(t, err)

	require.NoError(t, r.InsertChunk([]byte("ABCD"), nil, false))
	_, err = r.Extract(make([]byte, 4), 4)
	require.NoError(t, err)

	require.NoError(t, r.InsertChunk([]byte("EFGH"), nil, false))
	require.NoError(t, r.InsertChunk([]byte("IJKL"), nil, false))

	buf := make([]byte, 8)
	_, err = r.Extract(buf, 8)
	require.NoError(t, err)
	assert.Equal(t, "EFGHIJKL", string(buf))
}

type fakeClient struct {
	offset   int
	adjusted int
	tooSlow  bool
	icy      bool
	header   []byte
}

func (f *fakeClient) Offset() int           { return f.offset }
func (f *fakeClient) AdjustOffset(delta int) { f.offset += delta; f.adjusted++ }
func (f *fakeClient) MarkTooSlow()           { f.tooSlow = true }
func (f *fakeClient) WantsICY() bool         { return f.icy }
func (f *fakeClient) SetOffset(pos int)      { f.offset = pos }
func (f *fakeClient) SetHeaderBuf(buf []byte) { f.header = buf }

func TestEvictionAdjustsClientOffsetsAndDisconnectsLaggards(t *testing.T) {
	r, err := New(ContentTypeMP3, true, 4, 4)
	require.NoError(t, err)

	fast := &fakeClient{offset: 8}
	slow := &fakeClient{offset: 2}
	r.RegisterClient(fast)
	r.RegisterClient(slow)

	require.NoError(t, r.InsertChunk(make([]byte, 8), nil, false))
	_, err = r.Extract(make([]byte, 4), 4)
	require.NoError(t, err)

	assert.Equal(t, 4, fast.offset)
	assert.False(t, fast.tooSlow)
	assert.Equal(t, -2, slow.offset)
	assert.True(t, slow.tooSlow)
}

func TestUnregisterClientStopsFurtherAdjustment(t *testing.T) {
	r, err := New(ContentTypeMP3, true, 4, 4)
	require.NoError(t, err)

	c := &fakeClient{offset: 4}
	r.RegisterClient(c)
	r.UnregisterClient(c)

	require.NoError(t, r.InsertChunk(make([]byte, 4), nil, false))
	require.NoError(t, r.FastForward(4))
	assert.Equal(t, 4, c.offset)
}

func TestMetadataEvictionInvokesCallbackInOrder(t *testing.T) {
	r, err := New(ContentTypeMP3, false, 4, 4)
	require.NoError(t, err)

	var evicted []string
	r.OnEvictTrackInfo(func(info *track.TrackInfo) {
		evicted = append(evicted, info.Title)
	})

	first := track.New("A1", "T1")
	second := track.New("A2", "T2")
	require.NoError(t, r.InsertChunk(make([]byte, 4), first, true))
	require.NoError(t, r.InsertChunk(make([]byte, 4), second, true))

	require.NoError(t, r.FastForward(6))
	assert.Equal(t, []string{"T1", "T2"}, evicted)
}

func TestInitRelayEntryChunkedRoundsDownToChunkSize(t *testing.T) {
	r, err := New(ContentTypeMP3, true, 4, 8)
	require.NoError(t, err)
	require.NoError(t, r.InsertChunk(make([]byte, 28), nil, false))

	c := &fakeClient{}
	require.NoError(t, r.InitRelayEntry(c, 10))
	// count=28, burst=10 -> 18, rounded down to multiple of chunkSize(4) -> 16
	assert.Equal(t, 16, c.offset)
}

func TestInitRelayEntryChunkedFloorsAtZero(t *testing.T) {
	r, err := New(ContentTypeMP3, true, 4, 8)
	require.NoError(t, err)
	require.NoError(t, r.InsertChunk(make([]byte, 8), nil, false))

	c := &fakeClient{}
	require.NoError(t, r.InitRelayEntry(c, 100))
	assert.Equal(t, 0, c.offset)
}

func TestInitRelayEntryOGGFailsWithNoPages(t *testing.T) {
	r, err := New(ContentTypeOGG, true, 4, 8)
	require.NoError(t, err)

	c := &fakeClient{}
	err = r.InitRelayEntry(c, 10)
	assert.True(t, errors.Is(err, ErrNoOGGPagesForRelay))
}

func TestInitRelayEntryOGGAnchorsOnBOSAndCopiesHeader(t *testing.T) {
	r, err := New(ContentTypeOGG, true, 4, 8)
	require.NoError(t, err)
	require.NoError(t, r.InsertChunk(make([]byte, 32), nil, false))
	r.AppendPageMarkers(
		PageMarker{PageStart: 0, PageLen: 8, BOS: true, OptionalHeaderCopy: []byte("hdr")},
		PageMarker{PageStart: 8, PageLen: 4, SecondaryHeader: true},
		PageMarker{PageStart: 12, PageLen: 20},
	)

	c := &fakeClient{}
	require.NoError(t, r.InitRelayEntry(c, 32))
	assert.Equal(t, 0, c.offset)
	assert.Equal(t, []byte("hdr"), c.header)
}

func TestExtractRelayMP3ICYAppendsMetadataFrame(t *testing.T) {
	r, err := New(ContentTypeMP3, true, 4, 8)
	require.NoError(t, err)

	info := track.New("Artist", "Title")
	require.NoError(t, r.InsertChunk(make([]byte, 4), info, true))

	require.NoError(t, r.InsertChunk(make([]byte, 4), nil, false))

	dst := make([]byte, 4+len(info.ComposedMetadata))
	n, _, _, err := r.ExtractRelay(dst, 0, true, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 4+len(info.ComposedMetadata), n)
	assert.Equal(t, info.ComposedMetadata, dst[4:n])

	// The next chunk doesn't contain the TrackInfo's position, so it must
	// get the null frame rather than re-sending the same metadata.
	n, _, _, err = r.ExtractRelay(dst, 4, true, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, byte(0), dst[4])
}

func TestExtractRelayMP3ICYEmitsNullFrameWithoutMetadata(t *testing.T) {
	r, err := New(ContentTypeMP3, true, 4, 8)
	require.NoError(t, err)
	require.NoError(t, r.InsertChunk(make([]byte, 4), nil, false))

	dst := make([]byte, 5)
	n, _, _, err := r.ExtractRelay(dst, 0, true, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, byte(0), dst[4])
}

func TestExtractRelayDrainsPendingHeaderBufferFirst(t *testing.T) {
	r, err := New(ContentTypeOGG, true, 4, 8)
	require.NoError(t, err)
	require.NoError(t, r.InsertChunk(make([]byte, 8), nil, false))

	header := []byte("abcdef")
	dst := make([]byte, 4)
	n, newOff, done, err := r.ExtractRelay(dst, 0, false, header, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, newOff)
	assert.False(t, done)

	n, newOff, done, err = r.ExtractRelay(dst, 0, false, header, newOff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 6, newOff)
	assert.True(t, done)
}

func TestExtractRelayOGGClampsToAvailableBytes(t *testing.T) {
	r, err := New(ContentTypeOGG, true, 4, 8)
	require.NoError(t, err)
	require.NoError(t, r.InsertChunk(make([]byte, 5), nil, false))

	dst := make([]byte, 16)
	n, _, _, err := r.ExtractRelay(dst, 0, false, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestExtractRelayOGGFailsWhenNothingAvailable(t *testing.T) {
	r, err := New(ContentTypeOGG, true, 4, 8)
	require.NoError(t, err)

	_, _, _, err = r.ExtractRelay(make([]byte, 4), 0, false, nil, 0)
	assert.ErrorIs(t, err, ErrBufferEmpty)
}
