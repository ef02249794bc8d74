// Package upstream is the thin HTTP client that actually dials a
// SHOUTcast/Icecast/Ultravox broadcast and hands its bytes to the ingest
// driver. The wire-level parsing this package needs (ICY response headers,
// in-band metadata splitting, OGG page framing) is the core's job, not
// this one's — this package's only responsibility is establishing the
// connection and satisfying ingest.Source over it.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fernwave/streamcore/internal/ingest"
	"github.com/fernwave/streamcore/internal/ring"
)

// ErrNotConnected is returned by Read if called before Dial succeeds.
var ErrNotConnected = errors.New("upstream: not connected")

// Source dials one upstream stream URL over HTTP and implements
// ingest.Source against the response body. It does not handle HTTP
// redirects beyond what net/http's default client already follows, and it
// does not parse playlist formats (.pls/.m3u) — both are out of scope, per
// the interface's own contract.
type Source struct {
	url       string
	client    *http.Client
	userAgent string

	resp         *http.Response
	metaInterval int
	haveMeta     bool
	contentType  ring.ContentType
}

// New builds a Source for streamURL. Call Dial before Read.
func New(streamURL string) *Source {
	return &Source{
		url:       streamURL,
		client:    &http.Client{Timeout: 0},
		userAgent: "streamcore/1.0",
	}
}

// Dial performs the HTTP GET, requests ICY metadata, and classifies the
// response's content-type and metaint, per spec section 4.6's description
// of what a Source must resolve before the driver can start pumping bytes.
func (s *Source) Dial(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Icy-MetaData", "1")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: dial %s: %w", s.url, err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return fmt.Errorf("upstream: %s: unexpected status %s", s.url, resp.Status)
	}

	s.resp = resp
	s.contentType = classifyContentType(resp.Header.Get("Content-Type"))

	if raw := resp.Header.Get("Icy-Metaint"); raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			s.metaInterval = n
			s.haveMeta = true
		}
	}

	return nil
}

// Close releases the underlying HTTP response body.
func (s *Source) Close() error {
	if s.resp == nil {
		return nil
	}
	return s.resp.Body.Close()
}

// Read implements ingest.Source. net/http doesn't expose the underlying
// conn, so there is no per-call read deadline to arm here; timeout is
// accepted only to satisfy the interface. A genuinely stalled upstream is
// instead caught by the read itself eventually failing at the TCP level.
func (s *Source) Read(buf []byte, _ time.Duration) (int, error) {
	if s.resp == nil {
		return 0, ErrNotConnected
	}
	n, err := s.resp.Body.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, ingest.ErrTimeout
		}
	}
	return n, err
}

// MetaInterval implements ingest.Source.
func (s *Source) MetaInterval() (int, bool) { return s.metaInterval, s.haveMeta }

// ContentType implements ingest.Source.
func (s *Source) ContentType() ring.ContentType { return s.contentType }

func classifyContentType(mime string) ring.ContentType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.Contains(mime, "ogg"):
		return ring.ContentTypeOGG
	case strings.Contains(mime, "aac"), strings.Contains(mime, "aacp"):
		return ring.ContentTypeAAC
	case strings.Contains(mime, "nsv"):
		return ring.ContentTypeNSV
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ring.ContentTypeMP3
	default:
		return ring.ContentTypeMP3
	}
}
