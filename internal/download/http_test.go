package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubsystem(t *testing.T, opts ...HTTPOption) *HTTPSubsystem {
	t.Helper()
	opts = append([]HTTPOption{WithRetry(3, time.Millisecond, 5*time.Millisecond)}, opts...)
	s := NewHTTPSubsystem(t.TempDir(), opts...)
	t.Cleanup(s.Close)
	return s
}

func awaitNotification(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion notification")
		return Notification{}
	}
}

func TestHTTPSubsystem_Success(t *testing.T) {
	payload := []byte("fake tarball bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	s := newTestSubsystem(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Enqueue(context.Background(), Request{URL: server.URL + "/addon.tgz", FileName: "addon.tgz"})
	require.NoError(t, err)

	n := awaitNotification(t, ch)
	assert.Equal(t, id, n.ID)

	rec, err := s.Query(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Equal(t, int64(len(payload)), rec.BytesDownloaded)
	assert.Equal(t, int64(len(payload)), rec.BytesTotal)

	got, err := os.ReadFile(rec.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoFileExists(t, partPath(rec.LocalPath))
}

func TestHTTPSubsystem_NotFoundIsFatal(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	s := newTestSubsystem(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Enqueue(context.Background(), Request{URL: server.URL, FileName: "addon.tgz"})
	require.NoError(t, err)
	awaitNotification(t, ch)

	rec, err := s.Query(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)

	var statusErr *StatusError
	require.ErrorAs(t, rec.Err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPSubsystem_MaxBytes(t *testing.T) {
	tests := []struct {
		name    string
		chunked bool
	}{
		{name: "content length", chunked: false},
		{name: "chunked body", chunked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				if tt.chunked {
					// flushing before the body is complete drops Content-Length
					_, _ = w.Write([]byte("0123456789"))
					w.(http.Flusher).Flush()
					_, _ = w.Write([]byte("0123456789"))
					return
				}
				_, _ = w.Write([]byte("01234567890123456789"))
			}))
			defer server.Close()

			s := newTestSubsystem(t, WithMaxBytes(15))
			ch, unsubscribe := s.Subscribe()
			defer unsubscribe()

			id, err := s.Enqueue(context.Background(), Request{URL: server.URL, FileName: "addon.tgz"})
			require.NoError(t, err)
			awaitNotification(t, ch)

			rec, err := s.Query(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, rec.Status)
			assert.ErrorIs(t, rec.Err, ErrTooLarge)
			assert.Equal(t, int32(1), hits.Load())
			assert.NoFileExists(t, partPath(filepath.Join(s.dir, "addon.tgz")))
			assert.NoFileExists(t, filepath.Join(s.dir, "addon.tgz"))
		})
	}
}

func TestHTTPSubsystem_MaxBytesAllowsExactSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	s := newTestSubsystem(t, WithMaxBytes(10))
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Enqueue(context.Background(), Request{URL: server.URL, FileName: "addon.tgz"})
	require.NoError(t, err)
	awaitNotification(t, ch)

	rec, err := s.Query(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
}

func TestHTTPSubsystem_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	s := newTestSubsystem(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Enqueue(context.Background(), Request{URL: server.URL, FileName: "addon.tgz"})
	require.NoError(t, err)
	awaitNotification(t, ch)

	rec, err := s.Query(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPSubsystem_UnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	s := newTestSubsystem(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Enqueue(context.Background(), Request{URL: url, FileName: "addon.tgz"})
	require.NoError(t, err)

	awaitNotification(t, ch)

	rec, err := s.Query(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	var te *transientError
	require.ErrorAs(t, rec.Err, &te)
	assert.True(t, te.network)
}

func TestHTTPSubsystem_PauseReason(t *testing.T) {
	s := newTestSubsystem(t)
	j := &httpJob{rec: Record{ID: "x", Status: StatusInProgress}}

	s.pause(j, &transientError{err: errors.New("dial tcp: connection refused"), network: true}, 1)
	assert.Equal(t, StatusPaused, j.rec.Status)
	assert.Equal(t, PauseWaitingForNetwork, j.rec.PauseReason)

	s.pause(j, &transientError{err: &StatusError{URL: "u", Code: http.StatusServiceUnavailable}}, 2)
	assert.Equal(t, PauseWaitingToRetry, j.rec.PauseReason)
}

func TestHTTPSubsystem_InsufficientSpace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer server.Close()

	s := newTestSubsystem(t, WithFreeSpace(func(context.Context, string) (uint64, error) {
		return 10, nil
	}))
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Enqueue(context.Background(), Request{URL: server.URL, FileName: "addon.tgz"})
	require.NoError(t, err)
	awaitNotification(t, ch)

	rec, err := s.Query(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.True(t, errors.Is(rec.Err, ErrInsufficientSpace))
}

func TestHTTPSubsystem_RemoveMidFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	s := newTestSubsystem(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Enqueue(context.Background(), Request{URL: server.URL, FileName: "addon.tgz"})
	require.NoError(t, err)

	<-started
	require.Eventually(t, func() bool {
		rec, err := s.Query(context.Background(), id)
		return err == nil && rec.Status == StatusInProgress && rec.BytesDownloaded > 0
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Remove(context.Background(), id))

	_, err = s.Query(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.NoFileExists(t, filepath.Join(s.dir, "addon.tgz.part"))
	assert.NoFileExists(t, filepath.Join(s.dir, "addon.tgz"))

	select {
	case n := <-ch:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}

	assert.ErrorIs(t, s.Remove(context.Background(), id), ErrUnknownJob)
}

func TestHTTPSubsystem_UnsubscribeIsIdempotent(t *testing.T) {
	s := newTestSubsystem(t)
	ch, unsubscribe := s.Subscribe()

	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestHTTPSubsystem_RejectsPathInFileName(t *testing.T) {
	s := newTestSubsystem(t)
	_, err := s.Enqueue(context.Background(), Request{URL: "http://example.invalid", FileName: "../addon.tgz"})
	assert.Error(t, err)
}
