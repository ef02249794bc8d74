// Package relay implements the downstream relay server: an acceptor
// goroutine and a sender goroutine, under one Server, that parse each
// client's HTTP request, prime it with a back-buffered burst, then stream
// ongoing chunks until the client disconnects or falls too far behind.
package relay

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// Client is one accepted relay connection. It implements ring.Client (so
// the Ring can adjust its offset across eviction) and ring.RelayClient (so
// Server can prime and fill its send buffer).
type Client struct {
	ID       string
	conn     net.Conn
	wantsICY bool
	onLeave  func()

	mu          sync.Mutex
	offset      int
	isNew       bool
	tooSlow     bool
	headerBuf   []byte
	headerOff   int
	sendBuf     []byte
	sendOff     int
	leftToSend  int
}

func newClient(conn net.Conn, wantsICY bool, sendBufSize int) *Client {
	return &Client{
		ID:       uuid.New().String(),
		conn:     conn,
		wantsICY: wantsICY,
		isNew:    true,
		sendBuf:  make([]byte, sendBufSize),
	}
}

// Offset implements ring.Client.
func (c *Client) Offset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// AdjustOffset implements ring.Client. delta is always negative; called
// once per Ring eviction pass.
func (c *Client) AdjustOffset(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += delta
}

// MarkTooSlow implements ring.Client. The Ring calls this when the
// client's offset would go negative, i.e. unread bytes were evicted out
// from under it. The sender goroutine checks this flag and disconnects the
// client on its next pass.
func (c *Client) MarkTooSlow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tooSlow = true
}

func (c *Client) isTooSlow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tooSlow
}

// WantsICY implements ring.RelayClient.
func (c *Client) WantsICY() bool { return c.wantsICY }

// SetOffset implements ring.RelayClient.
func (c *Client) SetOffset(pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = pos
}

// SetHeaderBuf implements ring.RelayClient.
func (c *Client) SetHeaderBuf(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headerBuf = buf
	c.headerOff = 0
}

// close releases the client's socket. Safe to call multiple times.
func (c *Client) close() {
	c.conn.Close()
}
