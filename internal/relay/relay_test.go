package relay

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwave/streamcore/internal/ring"
)

func TestClientOffsetAdjustAndMarkTooSlow(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newClient(server, true, 1024)
	c.SetOffset(100)
	assert.Equal(t, 100, c.Offset())

	c.AdjustOffset(-40)
	assert.Equal(t, 60, c.Offset())

	assert.False(t, c.isTooSlow())
	c.MarkTooSlow()
	assert.True(t, c.isTooSlow())
}

func TestReadRequestParsesICYMetadataHeader(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	go func() {
		clientConn.Write([]byte("GET /stream HTTP/1.0\r\nIcy-MetaData: 1\r\nHost: x\r\n\r\n"))
		clientConn.Close()
	}()

	path, wantsICY, err := readRequest(serverConn)
	require.NoError(t, err)
	assert.Equal(t, "/stream", path)
	assert.True(t, wantsICY)
}

func TestReadRequestToleratesHTTP09StyleLine(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	go func() {
		clientConn.Write([]byte("GET /stream\r\n\r\n"))
		clientConn.Close()
	}()

	path, wantsICY, err := readRequest(serverConn)
	require.NoError(t, err)
	assert.Equal(t, "/stream", path)
	assert.False(t, wantsICY)
}

func TestWriteStreamStartResponseIncludesMetaintWhenICYWanted(t *testing.T) {
	r, err := ring.New(ring.ContentTypeMP3, true, 16, 4)
	require.NoError(t, err)

	s := New(Config{Ring: r, ICYName: "Test Radio", BitrateKbps: 128})

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	go s.writeStreamStartResponse(serverConn, true)

	reader := bufio.NewReader(clientConn)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		lines = append(lines, strings.TrimRight(line, "\r\n"))
		if err != nil || line == "\r\n" {
			break
		}
	}
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "ICY 200 OK")
	assert.Contains(t, joined, "icy-name: Test Radio")
	assert.Contains(t, joined, "icy-metaint: 16")
}

func TestServerRelaysBurstAndOngoingChunksToRealTCPClient(t *testing.T) {
	r, err := ring.New(ring.ContentTypeMP3, true, 8, 8)
	require.NoError(t, err)

	require.NoError(t, r.InsertChunk([]byte("AAAAAAAA"), nil, false))
	require.NoError(t, r.InsertChunk([]byte("BBBBBBBB"), nil, false))

	s := New(Config{Ring: r, BurstBytes: 16, ICYName: "Test"})
	require.NoError(t, s.Start("127.0.0.1:0", nil))
	defer s.Close()

	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /stream\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	got := make([]byte, 16)
	_, err = readFull(reader, got)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAABBBBBBBB", string(got))

	require.NoError(t, r.InsertChunk([]byte("CCCCCCCC"), nil, false))

	more := make([]byte, 8)
	_, err = readFull(reader, more)
	require.NoError(t, err)
	assert.Equal(t, "CCCCCCCC", string(more))
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServerDisconnectsSlowClientOnEviction(t *testing.T) {
	r, err := ring.New(ring.ContentTypeMP3, true, 8, 4)
	require.NoError(t, err)

	require.NoError(t, r.InsertChunk([]byte("11111111"), nil, false))

	s := New(Config{Ring: r, BurstBytes: 0})
	require.NoError(t, s.Start("127.0.0.1:0", nil))
	defer s.Close()

	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /stream\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	// Client's burst anchor is the current tail (offset 8). Insert two more
	// chunks without draining the client, then evict enough bytes that the
	// client's offset would go negative.
	require.NoError(t, r.InsertChunk([]byte("22222222"), nil, false))
	require.NoError(t, r.InsertChunk([]byte("33333333"), nil, false))
	_, err = r.Extract(make([]byte, 16), 16)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return s.Stats().ListenerCount == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStatsReportsListenerCountAndUptime(t *testing.T) {
	r, err := ring.New(ring.ContentTypeMP3, true, 8, 4)
	require.NoError(t, err)
	s := New(Config{Ring: r})
	require.NoError(t, s.Start("127.0.0.1:0", nil))
	defer s.Close()

	time.Sleep(5 * time.Millisecond)
	stats := s.Stats()
	assert.Equal(t, 0, stats.ListenerCount)
	assert.True(t, stats.Uptime > 0)
}

func TestServerCallsListenerHookOnJoinAndLeave(t *testing.T) {
	r, err := ring.New(ring.ContentTypeMP3, true, 8, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	joined := 0
	left := 0

	s := New(Config{Ring: r, ListenerHook: func(addr net.Addr) func() {
		mu.Lock()
		joined++
		mu.Unlock()
		return func() {
			mu.Lock()
			left++
			mu.Unlock()
		}
	}})
	require.NoError(t, s.Start("127.0.0.1:0", nil))

	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /stream\r\n\r\n"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return joined == 1
	}, time.Second, 10*time.Millisecond)

	// Close tears down every remaining client through the same onLeave path
	// as a mid-stream disconnect, just without depending on OS-level socket
	// error timing to observe it.
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, left)
}
