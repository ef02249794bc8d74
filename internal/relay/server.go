package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fernwave/streamcore/internal/ring"
)

// ErrRingNotReady names the condition in which a connecting client is
// closed without a response because no Ring has been wired in yet. The
// accept path closes the connection and does not return this value.
var ErrRingNotReady = errors.New("relay: ring not initialized")

// maxRequestSize bounds how many bytes of a client's opening request line
// the acceptor will buffer before giving up on it.
const maxRequestSize = 1024

// sendPollInterval is how long the sender goroutine sleeps between passes
// over the client list, mirroring the ~10ms yield the distilled spec
// describes for the sender thread.
const sendPollInterval = 10 * time.Millisecond

// writeBudget is the deadline given to each non-blocking send attempt; a
// Write that doesn't complete within this window is treated the same way
// the original EWOULDBLOCK/EAGAIN case is: leave the remainder for the
// next pass.
const writeBudget = 2 * time.Millisecond

// shutdownPollIterations/shutdownPollInterval bound Close's wait for the
// accept and send goroutines to notice the stop signal before resources
// are torn down regardless, matching relay_stop's bounded poll loop.
const (
	shutdownPollIterations = 50
	shutdownPollInterval   = 10 * time.Millisecond
)

var requestPathPattern = regexp.MustCompile(`(?im)^get\s+(\S+).*$`)

// Config bundles Server's construction parameters.
type Config struct {
	Ring          *ring.Ring
	MaxConnections int
	BurstBytes     int
	HaveMetadata   bool
	ICYName        string
	ICYDescription string
	ICYGenre       string
	BitrateKbps    int
	ContentType    string
	Logger         *log.Logger

	// ListenerHook, if set, is called once a client has been fully
	// registered (after its burst is primed), and the func it returns is
	// called exactly once when that client disconnects. internal/stats uses
	// this to track unique listener IPs without the relay package needing
	// to know anything about hashing or TTLs.
	ListenerHook func(remoteAddr net.Addr) (onLeave func())
}

// Server is the two-goroutine relay described in spec section 4.5: one
// acceptor, one sender, sharing a client list guarded by a mutex.
type Server struct {
	cfg      Config
	listener net.Listener
	logger   *log.Logger

	mu      sync.Mutex
	clients []*Client

	totalBytesRelayed uint64

	stopAccept chan struct{}
	stopSend   chan struct{}
	acceptDone chan struct{}
	sendDone   chan struct{}
	closeOnce  sync.Once
	startedAt  time.Time
}

// New constructs a Server bound to cfg.Ring. Start still needs to be
// called to actually bind a listener and launch the two goroutines.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		stopAccept: make(chan struct{}),
		stopSend:   make(chan struct{}),
		acceptDone: make(chan struct{}),
		sendDone:   make(chan struct{}),
	}
}

// Start binds addr (or, if searchPorts ports is non-empty, the first port
// in that list that binds) and launches the acceptor and sender
// goroutines.
func (s *Server) Start(addr string, searchPorts []string) error {
	l, err := bindListener(addr, searchPorts)
	if err != nil {
		return err
	}
	s.listener = l
	s.startedAt = time.Now()

	go s.acceptLoop()
	go s.sendLoop()
	return nil
}

// bindListener tries addr first; if candidates is non-empty it tries each
// in turn instead (spec's search_ports behavior over [relay_port,
// max_port]) and returns the first that binds.
func bindListener(addr string, candidates []string) (net.Listener, error) {
	if len(candidates) == 0 {
		return net.Listen("tcp", addr)
	}
	var lastErr error
	for _, c := range candidates {
		l, err := net.Listen("tcp", c)
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("relay: no port in search range bound: %w", lastErr)
}

// Addr returns the bound listener's address, or nil if Start hasn't run.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats is a point-in-time snapshot of the relay's activity, consumed by
// internal/stats.
type Stats struct {
	ListenerCount int
	BytesRelayed  uint64
	Uptime        time.Duration
}

// Stats returns a snapshot of current relay activity.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ListenerCount: len(s.clients),
		BytesRelayed:  s.totalBytesRelayed,
		Uptime:        time.Since(s.startedAt),
	}
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		select {
		case <-s.stopAccept:
			return
		default:
		}

		if tc, ok := s.listener.(*net.TCPListener); ok {
			tc.SetDeadline(time.Now().Add(200 * time.Millisecond))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopAccept:
				return
			default:
				s.logger.Printf("relay: accept error: %v", err)
				continue
			}
		}
		s.handleAccept(conn)
	}
}

func (s *Server) handleAccept(conn net.Conn) {
	if s.cfg.Ring == nil {
		conn.Close()
		return
	}
	if s.cfg.MaxConnections > 0 && s.clientCount() >= s.cfg.MaxConnections {
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, wantsICYRequest, err := readRequest(conn)
	if err != nil {
		s.logger.Printf("relay: bad request from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	wantsICY := wantsICYRequest && s.cfg.HaveMetadata
	if err := s.writeStreamStartResponse(conn, wantsICY); err != nil {
		conn.Close()
		return
	}

	sendBufSize := s.cfg.Ring.ChunkSize()
	if wantsICY {
		sendBufSize += 1 + 16*256
	}
	client := newClient(conn, wantsICY, sendBufSize)

	if err := s.cfg.Ring.InitRelayEntry(client, s.cfg.BurstBytes); err != nil {
		s.logger.Printf("relay: init burst failed for %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	s.cfg.Ring.RegisterClient(client)
	if s.cfg.ListenerHook != nil {
		client.onLeave = s.cfg.ListenerHook(conn.RemoteAddr())
	}
	s.mu.Lock()
	s.clients = append(s.clients, client)
	s.mu.Unlock()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// readRequest reads bytes until a CRLF-CRLF terminator (or maxRequestSize
// is exceeded) and reports whether the request carried a case-insensitive
// Icy-MetaData: 1 line. Reading also stops when the client sends EOF after
// at least one byte, so a bare "GET /path" HTTP/0.9 line with no trailing
// headers or blank line is accepted; the request-line regex does not
// require an HTTP version and is matched case-insensitively.
func readRequest(conn net.Conn) (path string, wantsICY bool, err error) {
	var buf bytes.Buffer
	rbuf := make([]byte, 512)

	for {
		n, rerr := conn.Read(rbuf)
		if n > 0 {
			buf.Write(rbuf[:n])
		}
		if buf.Len() > maxRequestSize {
			return "", false, errors.New("relay: request too long")
		}
		if bytes.Contains(buf.Bytes(), []byte("\r\n\r\n")) {
			break
		}
		if rerr != nil {
			if rerr == io.EOF && buf.Len() > 0 {
				break
			}
			return "", false, rerr
		}
	}

	text := buf.String()
	m := requestPathPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false, errors.New("relay: no request line")
	}
	path = m[1]
	wantsICY = strings.Contains(strings.ToLower(text), "icy-metadata: 1")
	return path, wantsICY, nil
}

// writeStreamStartResponse sends the ICY/200 response header. It always
// begins "ICY 200 OK\r\n" and ends "\r\n\r\n" per spec section 6; the
// icy-metaint line is included only when the client asked for metadata and
// the upstream has it to offer.
func (s *Server) writeStreamStartResponse(conn net.Conn, wantsICY bool) error {
	var b bytes.Buffer
	b.WriteString("ICY 200 OK\r\n")
	if s.cfg.ContentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", s.cfg.ContentType)
	}
	if s.cfg.ICYName != "" {
		fmt.Fprintf(&b, "icy-name: %s\r\n", s.cfg.ICYName)
	}
	if s.cfg.ICYDescription != "" {
		fmt.Fprintf(&b, "icy-description: %s\r\n", s.cfg.ICYDescription)
	}
	if s.cfg.ICYGenre != "" {
		fmt.Fprintf(&b, "icy-genre: %s\r\n", s.cfg.ICYGenre)
	}
	if s.cfg.BitrateKbps > 0 {
		fmt.Fprintf(&b, "icy-br: %d\r\n", s.cfg.BitrateKbps)
	}
	if wantsICY {
		b.WriteString("icy-metadata: 1\r\n")
		fmt.Fprintf(&b, "icy-metaint: %d\r\n", s.cfg.Ring.ChunkSize())
	}
	b.WriteString("\r\n")

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write(b.Bytes())
	conn.SetWriteDeadline(time.Time{})
	return err
}

func (s *Server) sendLoop() {
	defer close(s.sendDone)
	for {
		select {
		case <-s.stopSend:
			return
		default:
		}
		s.sendPass()
		time.Sleep(sendPollInterval)
	}
}

// sendPass iterates the client list once, filling and flushing each
// client's send buffer without blocking more than writeBudget per attempt,
// disconnecting any client that errors out or has been flagged too-slow
// by a Ring eviction.
func (s *Server) sendPass() {
	s.mu.Lock()
	snapshot := append([]*Client(nil), s.clients...)
	s.mu.Unlock()

	var dead []*Client
	for _, c := range snapshot {
		if c.isTooSlow() {
			dead = append(dead, c)
			continue
		}
		if !s.serviceClient(c) {
			dead = append(dead, c)
		}
	}

	if len(dead) > 0 {
		s.disconnectAll(dead)
	}
}

// serviceClient returns false if the client should be disconnected.
func (s *Server) serviceClient(c *Client) bool {
	c.mu.Lock()
	if c.isNew {
		c.sendOff = 0
		c.leftToSend = 0
		c.isNew = false
	}

	if c.leftToSend == 0 {
		n, newHeaderOff, headerDone, err := s.cfg.Ring.ExtractRelay(c.sendBuf, c.offset, c.wantsICY, c.headerBuf, c.headerOff)
		if errors.Is(err, ring.ErrBufferEmpty) {
			c.mu.Unlock()
			return true
		}
		if err != nil {
			c.mu.Unlock()
			return false
		}
		if len(c.headerBuf) > 0 {
			c.headerOff = newHeaderOff
			if headerDone {
				c.headerBuf = nil
				c.headerOff = 0
			}
		} else {
			c.offset += n
		}
		c.sendOff = 0
		c.leftToSend = n
	}
	buf := c.sendBuf[c.sendOff : c.sendOff+c.leftToSend]
	c.mu.Unlock()

	if len(buf) == 0 {
		return true
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeBudget))
	n, err := c.conn.Write(buf)
	c.conn.SetWriteDeadline(time.Time{})

	if n > 0 {
		c.mu.Lock()
		c.sendOff += n
		c.leftToSend -= n
		c.mu.Unlock()
		s.mu.Lock()
		s.totalBytesRelayed += uint64(n)
		s.mu.Unlock()
	}

	if err == nil {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		// EWOULDBLOCK equivalent: leave the remainder for next pass.
		return true
	}
	return false
}

func (s *Server) disconnectAll(clients []*Client) {
	s.mu.Lock()
	for _, c := range clients {
		for i, existing := range s.clients {
			if existing == c {
				s.clients = append(s.clients[:i], s.clients[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.cfg.Ring.UnregisterClient(c)
		c.close()
		if c.onLeave != nil {
			c.onLeave()
		}
	}
}

// Close stops both goroutines (bounded wait, per shutdownPollIterations),
// closes the listener, and disconnects every remaining client. It is
// idempotent.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopAccept)
		close(s.stopSend)

		for i := 0; i < shutdownPollIterations; i++ {
			acceptStopped := channelClosed(s.acceptDone)
			sendStopped := channelClosed(s.sendDone)
			if acceptStopped && sendStopped {
				break
			}
			time.Sleep(shutdownPollInterval)
		}

		if s.listener != nil {
			err = s.listener.Close()
		}

		s.mu.Lock()
		remaining := append([]*Client(nil), s.clients...)
		s.clients = nil
		s.mu.Unlock()
		for _, c := range remaining {
			s.cfg.Ring.UnregisterClient(c)
			c.close()
			if c.onLeave != nil {
				c.onLeave()
			}
		}
	})
	return err
}

func channelClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
