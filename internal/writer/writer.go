// Package writer implements the track-writer/file pipeline: it takes the
// byte extents the ingest driver extracts at song boundaries and lands them
// on disk as named, complete track files, optionally alongside a running
// show recording and cue sheet.
package writer

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fernwave/streamcore/internal/ring"
	"github.com/fernwave/streamcore/internal/track"
)

// ErrUnknownContentType is returned by New when contentType doesn't map to
// a known file extension.
var ErrUnknownContentType = errors.New("writer: unknown content type")

// OverwritePolicy controls what End does when the destination complete
// filename already exists.
type OverwritePolicy int

const (
	// OverwriteAlways replaces the existing file unconditionally.
	OverwriteAlways OverwritePolicy = iota
	// OverwriteNever leaves the existing file in place. The new one is
	// deleted when End's truncateDup is set; otherwise it is kept under a
	// numeric suffix beside the existing one.
	OverwriteNever
	// OverwriteLarger replaces the existing file only if the new one is
	// bigger.
	OverwriteLarger
	// OverwriteVersion never overwrites; instead appends a numeric suffix
	// to the new file's name until it's unique.
	OverwriteVersion
)

// Config bundles New's parameters, following the teacher's Config-struct
// convention for multi-field constructors (philipch07/EggsFM/internal/hls
// Config, philipch07/EggsFM/internal/icecast Config).
type Config struct {
	ContentType      ring.ContentType
	OutputDir        string
	Pattern          string
	KeepIncomplete   bool
	IndividualTracks bool
	ShowFile         bool
	SeparateDirs     bool
	DateStamp        time.Time
	ICYName          string
	CountStart       int
	Logger           *log.Logger
}

// Writer is the FileWriter state spec section 3 describes.
type Writer struct {
	cfg Config
	ext string

	outputDir      string
	incompleteDir  string
	streamDir      string

	trackNo int
	count   int

	incompleteFilename string
	incompleteFile     *os.File

	showFile *os.File
	cueFile  *os.File
	cueIndex int

	logger *log.Logger
}

var extByContentType = map[ring.ContentType]string{
	ring.ContentTypeMP3: ".mp3",
	ring.ContentTypeOGG: ".ogg",
	ring.ContentTypeAAC: ".aac",
	ring.ContentTypeNSV: ".nsv",
}

// illegalPathChars mirrors the distilled spec's scrub list for filenames
// derived from track/stream metadata.
const illegalPathChars = `/\:*?"<>|~`

// New validates contentType, sanitizes icyName for use as a directory
// segment, and creates the output/incomplete/(optional stream-named)
// directory tree.
func New(cfg Config) (*Writer, error) {
	ext, ok := extByContentType[cfg.ContentType]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownContentType, cfg.ContentType)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	outputDir := strings.TrimSpace(cfg.OutputDir)
	if outputDir == "" {
		outputDir = "."
	}
	if cfg.SeparateDirs {
		outputDir = filepath.Join(outputDir, sanitizePathSegment(cfg.ICYName))
	}

	incompleteDir := filepath.Join(outputDir, "incomplete")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.MkdirAll(incompleteDir, 0o755); err != nil {
		return nil, fmt.Errorf("create incomplete dir: %w", err)
	}

	w := &Writer{
		cfg:           cfg,
		ext:           ext,
		outputDir:     outputDir,
		incompleteDir: incompleteDir,
		trackNo:       cfg.CountStart,
		logger:        logger,
	}

	if cfg.ShowFile {
		showPath := filepath.Join(outputDir, sanitizePathSegment(cfg.ICYName)+"_show"+ext)
		f, err := os.OpenFile(showPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open show file: %w", err)
		}
		w.showFile = f

		cuePath := filepath.Join(outputDir, sanitizePathSegment(cfg.ICYName)+"_show.cue")
		cf, err := os.OpenFile(cuePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open cue file: %w", err)
		}
		w.cueFile = cf
	}

	return w, nil
}

// sanitizePathSegment replaces every illegal filename character with '-'
// and trims leading/trailing dots, so metadata text is always safe to use
// as a single path segment.
func sanitizePathSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegalPathChars, r) {
			return '-'
		}
		return r
	}, s)
	s = strings.Trim(s, ".")
	if s == "" {
		s = "stream"
	}
	return s
}

// Start opens a new incomplete file named from trackInfo via the file
// pattern, versioning or overwriting an existing same-named incomplete file
// per KeepIncomplete. If individual tracks aren't in use and an incomplete
// file is already open, it keeps that file and only adds a cue entry.
func (w *Writer) Start(info *track.TrackInfo) error {
	w.trackNo++
	w.count++

	if !w.cfg.IndividualTracks && w.incompleteFile != nil {
		// Continuous (non-split) mode: keep appending to the one running
		// incomplete file; only the cue sheet gets a new entry per track.
		if w.cueFile != nil {
			w.writeCueEntry(info)
		}
		return nil
	}

	if err := w.closeIncomplete(); err != nil {
		return err
	}

	name := w.expandPattern(info) + w.ext
	path := filepath.Join(w.incompleteDir, name)

	if _, err := os.Stat(path); err == nil {
		if w.cfg.KeepIncomplete {
			path = w.versionedPath(w.incompleteDir, name)
		} else if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale incomplete file: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open incomplete file: %w", err)
	}
	w.incompleteFile = f
	w.incompleteFilename = path

	if w.cueFile != nil {
		w.writeCueEntry(info)
	}
	return nil
}

// Write performs a direct write of extracted ring bytes to both the
// in-progress incomplete file and, if enabled, the running show file.
func (w *Writer) Write(b []byte) (int, error) {
	if w.incompleteFile != nil {
		if _, err := w.incompleteFile.Write(b); err != nil {
			return 0, fmt.Errorf("write incomplete file: %w", err)
		}
	}
	if w.showFile != nil {
		if _, err := w.showFile.Write(b); err != nil {
			return 0, fmt.Errorf("write show file: %w", err)
		}
	}
	return len(b), nil
}

// End closes the incomplete file and moves it to its final complete name
// under policy, returning the final path ("" if OverwriteNever deleted the
// new file because truncateDup was set).
func (w *Writer) End(info *track.TrackInfo, policy OverwritePolicy, truncateDup bool) (string, error) {
	if w.incompleteFile == nil {
		return "", nil
	}
	incompletePath := w.incompleteFilename
	if err := w.incompleteFile.Close(); err != nil {
		w.incompleteFile = nil
		return "", fmt.Errorf("close incomplete file: %w", err)
	}
	w.incompleteFile = nil

	completeName := w.expandPattern(info) + w.ext
	completePath := filepath.Join(w.outputDir, completeName)

	finalPath, err := w.finishFile(incompletePath, completePath, policy, truncateDup)
	if err != nil {
		return "", err
	}
	if finalPath == "" {
		w.logger.Printf("writer: discarded %s (%v policy)", incompletePath, policy)
	}
	return finalPath, nil
}

func (w *Writer) finishFile(incompletePath, completePath string, policy OverwritePolicy, truncateDup bool) (string, error) {
	existing, statErr := os.Stat(completePath)
	exists := statErr == nil

	switch {
	case !exists || policy == OverwriteAlways:
		if err := os.Rename(incompletePath, completePath); err != nil {
			return "", fmt.Errorf("move to complete: %w", err)
		}
		return completePath, nil

	case policy == OverwriteNever:
		if truncateDup {
			os.Remove(incompletePath)
			return "", nil
		}
		dir, name := filepath.Split(completePath)
		versioned := w.versionedPath(dir, name)
		if err := os.Rename(incompletePath, versioned); err != nil {
			return "", fmt.Errorf("move to versioned complete: %w", err)
		}
		return versioned, nil

	case policy == OverwriteLarger:
		incompleteInfo, err := os.Stat(incompletePath)
		if err != nil {
			return "", fmt.Errorf("stat incomplete file: %w", err)
		}
		if incompleteInfo.Size() <= existing.Size() {
			if truncateDup {
				os.Remove(incompletePath)
			}
			return completePath, nil
		}
		if err := os.Rename(incompletePath, completePath); err != nil {
			return "", fmt.Errorf("move to complete: %w", err)
		}
		return completePath, nil

	case policy == OverwriteVersion:
		dir, name := filepath.Split(completePath)
		versioned := w.versionedPath(dir, name)
		if err := os.Rename(incompletePath, versioned); err != nil {
			return "", fmt.Errorf("move to versioned complete: %w", err)
		}
		return versioned, nil

	default:
		return "", fmt.Errorf("writer: unknown overwrite policy %v", policy)
	}
}

// versionedPath appends " (n)" before the extension until dir/name doesn't
// already exist.
func (w *Writer) versionedPath(dir, name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func (w *Writer) closeIncomplete() error {
	if w.incompleteFile == nil {
		return nil
	}
	if err := w.incompleteFile.Close(); err != nil {
		return fmt.Errorf("close previous incomplete file: %w", err)
	}
	w.incompleteFile = nil
	return nil
}

// Shutdown closes any open handles. It is idempotent.
func (w *Writer) Shutdown() error {
	var firstErr error
	if err := w.closeIncomplete(); err != nil && firstErr == nil {
		firstErr = err
	}
	if w.showFile != nil {
		if err := w.showFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.showFile = nil
	}
	if w.cueFile != nil {
		if err := w.cueFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.cueFile = nil
	}
	return firstErr
}
