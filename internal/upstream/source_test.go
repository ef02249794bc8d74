package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwave/streamcore/internal/ring"
)

func TestDialParsesICYHeadersAndClassifiesContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("Icy-MetaData"))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Icy-Metaint", "8192")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("abc"))
	}))
	defer srv.Close()

	src := New(srv.URL)
	require.NoError(t, src.Dial(context.Background()))
	defer src.Close()

	interval, ok := src.MetaInterval()
	assert.True(t, ok)
	assert.Equal(t, 8192, interval)
	assert.Equal(t, ring.ContentTypeMP3, src.ContentType())

	buf := make([]byte, 3)
	n, err := src.Read(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}

func TestDialClassifiesOGGAndHandlesAbsentMetaint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/ogg")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := New(srv.URL)
	require.NoError(t, src.Dial(context.Background()))
	defer src.Close()

	_, ok := src.MetaInterval()
	assert.False(t, ok)
	assert.Equal(t, ring.ContentTypeOGG, src.ContentType())
}

func TestDialReturnsErrorOnNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := New(srv.URL)
	assert.Error(t, src.Dial(context.Background()))
}

func TestReadBeforeDialReturnsErrNotConnected(t *testing.T) {
	src := New("http://example.invalid")
	_, err := src.Read(make([]byte, 4), time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}
