package session

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwave/streamcore/internal/ingest"
	"github.com/fernwave/streamcore/internal/ring"
	"github.com/fernwave/streamcore/internal/writer"
)

// blockingSource never returns data until Close is called, at which point
// every pending and future Read returns io.EOF — just enough Source for a
// session lifecycle test that doesn't care about actual ingest content.
type blockingSource struct {
	stop chan struct{}
}

func newBlockingSource() *blockingSource { return &blockingSource{stop: make(chan struct{})} }

func (s *blockingSource) Read(buf []byte, _ time.Duration) (int, error) {
	// Ignores the caller's requested timeout and always returns quickly, to
	// keep the session-lifecycle test's background ingest goroutine from
	// blocking real time during shutdown.
	select {
	case <-s.stop:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
		return 0, ingest.ErrTimeout
	}
}

func (s *blockingSource) MetaInterval() (int, bool)      { return 0, false }
func (s *blockingSource) ContentType() ring.ContentType { return ring.ContentTypeMP3 }
func (s *blockingSource) close()                        { close(s.stop) }

func TestSessionStartAcceptsRelayClientsAndCloseIsClean(t *testing.T) {
	src := newBlockingSource()
	defer src.close()

	sess, err := Start(Config{
		ContentType: ring.ContentTypeMP3,
		ChunkSize:   8,
		NumChunks:   8,
		Source:      src,
		WriterConfig: writer.Config{
			OutputDir:        t.TempDir(),
			Pattern:          "%A - %T",
			IndividualTracks: true,
		},
		OverwritePolicy: writer.OverwriteAlways,
		ListenAddr:      "127.0.0.1:0",
		ICYName:         "Test Radio",
	})
	require.NoError(t, err)
	defer sess.Close()

	conn, err := net.DialTimeout("tcp", sess.Relay().Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /stream\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "ICY 200 OK")

	assert.Eventually(t, func() bool {
		return sess.Relay().Stats().ListenerCount == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, sess.UniqueListeners())

	assert.True(t, sess.Uptime() >= 0)

	require.NoError(t, sess.Close())
	// A second Close must be a no-op, not a panic or double-close error.
	require.NoError(t, sess.Close())
}
