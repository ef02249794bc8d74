// Package session wires a Ring, a track Writer, a relay Server, and an
// ingest Driver into the one running instance a station operates: the
// replacement for a single global "rip manager" struct, following the
// teacher's Streamer lifecycle (construct, background goroutines, bounded
// Close) generalized from one ffmpeg subprocess to this module's ingest
// pipeline.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fernwave/streamcore/internal/charset"
	"github.com/fernwave/streamcore/internal/ingest"
	"github.com/fernwave/streamcore/internal/relay"
	"github.com/fernwave/streamcore/internal/ring"
	"github.com/fernwave/streamcore/internal/stats"
	"github.com/fernwave/streamcore/internal/writer"
)

// Config bundles every field needed to stand up one ripping session: the
// ring's sizing, the upstream Source, the writer's output layout, and the
// relay's listen address/limits.
type Config struct {
	ContentType ring.ContentType
	ChunkSize   int
	NumChunks   int

	Source     ingest.Source
	RoleConfig *charset.RoleConfig

	WriterConfig    writer.Config
	OverwritePolicy writer.OverwritePolicy

	ListenAddr      string
	SearchPorts     []string
	MaxConnections  int
	BurstBytes      int
	HaveMetadata    bool
	ICYName         string
	ICYDescription  string
	ICYGenre        string
	BitrateKbps     int

	// ListenerTTL/ListenerHashSalt size the session's built-in unique-IP
	// listener tracker. ListenerTTL of 0 uses the tracker's own default.
	ListenerTTL      time.Duration
	ListenerHashSalt string

	Logger *log.Logger
}

// Session owns one running ring+writer+relay+ingest stack.
type Session struct {
	cfg    Config
	logger *log.Logger

	ring   *ring.Ring
	writer *writer.Writer
	relay  *relay.Server
	stats  *stats.Tracker

	driver     *ingest.Driver
	cancel     context.CancelFunc
	driverDone chan struct{}

	startedAt time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

const (
	// driverShutdownPollIterations/Interval bound how long Close waits for
	// the ingest goroutine to notice cancellation before giving up and
	// returning anyway — mirrors internal/relay.Server's bounded shutdown
	// poll, which itself generalizes the distilled spec's relay_stop.
	driverShutdownPollIterations = 50
	driverShutdownPollInterval   = 10 * time.Millisecond
)

// Start constructs the ring, writer, and relay server from cfg, launches
// the ingest driver in the background, and starts accepting relay clients.
func Start(cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("session: Source is required")
	}

	r, err := ring.New(cfg.ContentType, true, cfg.ChunkSize, cfg.NumChunks)
	if err != nil {
		return nil, fmt.Errorf("session: ring: %w", err)
	}

	wCfg := cfg.WriterConfig
	wCfg.ContentType = cfg.ContentType
	w, err := writer.New(wCfg)
	if err != nil {
		return nil, fmt.Errorf("session: writer: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	listenerTTL := cfg.ListenerTTL
	if listenerTTL <= 0 {
		listenerTTL = stats.DefaultTTL
	}
	tracker := stats.New(listenerTTL, cfg.ListenerHashSalt)

	relayServer := relay.New(relay.Config{
		Ring:           r,
		MaxConnections: cfg.MaxConnections,
		BurstBytes:     cfg.BurstBytes,
		HaveMetadata:   cfg.HaveMetadata,
		ICYName:        cfg.ICYName,
		ICYDescription: cfg.ICYDescription,
		ICYGenre:       cfg.ICYGenre,
		BitrateKbps:    cfg.BitrateKbps,
		ContentType:    cfg.ContentType.String(),
		Logger:         logger,
		ListenerHook:   tracker.TrackConnection,
	})
	if err := relayServer.Start(cfg.ListenAddr, cfg.SearchPorts); err != nil {
		return nil, fmt.Errorf("session: relay: %w", err)
	}

	driver := ingest.New(ingest.Config{
		Source:          cfg.Source,
		Ring:            r,
		Writer:          w,
		RoleConfig:      cfg.RoleConfig,
		OverwritePolicy: cfg.OverwritePolicy,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		cfg:        cfg,
		logger:     logger,
		ring:       r,
		writer:     w,
		relay:      relayServer,
		stats:      tracker,
		driver:     driver,
		cancel:     cancel,
		driverDone: make(chan struct{}),
		startedAt:  time.Now(),
		closed:     make(chan struct{}),
	}

	go sess.runDriver(ctx)

	logger.Printf("session: ready at %s (content=%s, chunk=%d x%d)",
		relayServer.Addr(), cfg.ContentType, cfg.ChunkSize, cfg.NumChunks)

	return sess, nil
}

func (s *Session) runDriver(ctx context.Context) {
	defer close(s.driverDone)
	if err := s.driver.Run(ctx); err != nil && err != context.Canceled {
		if !s.isClosed() {
			s.logger.Printf("session: ingest driver stopped: %v", err)
		}
	}
}

// Ring returns the session's ring buffer.
func (s *Session) Ring() *ring.Ring { return s.ring }

// Relay returns the session's relay server.
func (s *Session) Relay() *relay.Server { return s.relay }

// UniqueListeners returns the number of distinct listener IPs currently
// connected to the relay (or within the listener TTL of their last
// disconnect).
func (s *Session) UniqueListeners() int { return s.stats.UniqueListeners() }

// Uptime reports how long the session has been running.
func (s *Session) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close stops the ingest driver, the relay server, and flushes the writer.
// It is idempotent and safe to call from multiple goroutines.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()

		for i := 0; i < driverShutdownPollIterations; i++ {
			select {
			case <-s.driverDone:
				goto driverStopped
			default:
				time.Sleep(driverShutdownPollInterval)
			}
		}
	driverStopped:

		if err := s.relay.Close(); err != nil {
			closeErr = fmt.Errorf("session: relay close: %w", err)
		}
		if err := s.writer.Shutdown(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("session: writer shutdown: %w", err)
		}
	})
	return closeErr
}
