// Command streamcore is the thin ambient bootstrap: it loads an optional
// .env, reads a handful of STREAMCORE_* settings, dials one upstream
// stream, and runs the ring+writer+relay+ingest session until killed.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fernwave/streamcore/internal/charset"
	"github.com/fernwave/streamcore/internal/ring"
	"github.com/fernwave/streamcore/internal/session"
	"github.com/fernwave/streamcore/internal/upstream"
	"github.com/fernwave/streamcore/internal/writer"
)

const envFile = ".env"

func loadConfig() {
	log.Println("Loading `" + envFile + "`")
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("no %s found, relying on process environment", envFile)
	}
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("%s=%q is not an integer, using default %d", key, raw, fallback)
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("%s=%q is not a bool, using default %t", key, raw, fallback)
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("%s=%q is not a duration, using default %s", key, raw, fallback)
		return fallback
	}
	return d
}

func overwritePolicyFromEnv(key string, fallback writer.OverwritePolicy) writer.OverwritePolicy {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return fallback
	case "always":
		return writer.OverwriteAlways
	case "never":
		return writer.OverwriteNever
	case "larger":
		return writer.OverwriteLarger
	case "version":
		return writer.OverwriteVersion
	default:
		log.Printf("%s=%q is not a recognized overwrite policy, using default", key, os.Getenv(key))
		return fallback
	}
}

func searchPortsFromEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var ports []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ports = append(ports, p)
		}
	}
	return ports
}

func main() {
	loadConfig()

	streamURL := getenv("STREAMCORE_UPSTREAM_URL", "")
	if streamURL == "" {
		log.Fatal("STREAMCORE_UPSTREAM_URL is required")
	}

	src := upstream.New(streamURL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("connecting to upstream %s", streamURL)
	if err := src.Dial(ctx); err != nil {
		log.Fatal(err)
	}
	defer src.Close()

	roleConfig := charset.NewRoleConfig()
	if name := getenv("STREAMCORE_METADATA_CHARSET", ""); name != "" {
		if cs, ok := charset.Find(name); ok {
			roleConfig.Set(charset.RoleMetadata, cs)
		} else {
			log.Printf("STREAMCORE_METADATA_CHARSET=%q not recognized, leaving metadata as UTF-8", name)
		}
	}

	cfg := session.Config{
		ContentType: src.ContentType(),
		ChunkSize:   getenvInt("STREAMCORE_CHUNK_SIZE", 4096),
		NumChunks:   getenvInt("STREAMCORE_NUM_CHUNKS", 64),

		Source:     src,
		RoleConfig: roleConfig,

		WriterConfig: writer.Config{
			OutputDir:        getenv("STREAMCORE_OUTPUT_DIR", "./rips"),
			Pattern:          getenv("STREAMCORE_FILENAME_PATTERN", "%A - %T"),
			KeepIncomplete:   getenvBool("STREAMCORE_KEEP_INCOMPLETE", false),
			IndividualTracks: getenvBool("STREAMCORE_INDIVIDUAL_TRACKS", true),
			ShowFile:         getenvBool("STREAMCORE_SHOW_FILE", false),
			SeparateDirs:     getenvBool("STREAMCORE_SEPARATE_DIRS", false),
			ICYName:          getenv("STREAMCORE_ICY_NAME", ""),
		},
		OverwritePolicy: overwritePolicyFromEnv("STREAMCORE_OVERWRITE_POLICY", writer.OverwriteVersion),

		ListenAddr:     getenv("STREAMCORE_LISTEN_ADDR", ":8000"),
		SearchPorts:    searchPortsFromEnv("STREAMCORE_SEARCH_PORTS"),
		MaxConnections: getenvInt("STREAMCORE_MAX_CONNECTIONS", 0),
		BurstBytes:     getenvInt("STREAMCORE_BURST_BYTES", 65536),
		HaveMetadata:   getenvBool("STREAMCORE_RELAY_METADATA", true),
		ICYName:        getenv("STREAMCORE_ICY_NAME", "streamcore"),
		ICYDescription: getenv("STREAMCORE_ICY_DESCRIPTION", ""),
		ICYGenre:       getenv("STREAMCORE_ICY_GENRE", ""),
		BitrateKbps:    getenvInt("STREAMCORE_BITRATE_KBPS", 128),

		ListenerTTL:      getenvDuration("STREAMCORE_LISTENER_TTL", 0),
		ListenerHashSalt: getenv("STREAMCORE_LISTENER_SALT", ""),

		Logger: log.Default(),
	}

	if interval, ok := src.MetaInterval(); ok {
		log.Printf("upstream advertises icy-metaint=%d", interval)
	} else if cfg.ContentType != ring.ContentTypeOGG {
		log.Printf("upstream advertised no icy-metaint; proceeding without in-band metadata")
	}

	sess, err := session.Start(cfg)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("relay listening at %s", sess.Relay().Addr())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	if err := sess.Close(); err != nil {
		log.Println(err)
	}
}
