package access_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kavelund/accessgate/internal/access"
	"github.com/kavelund/accessgate/internal/database"
	"github.com/stretchr/testify/require"
)

func TestSourceValidation(t *testing.T) {
	t.Parallel()

	sources := access.NewSources(newMemStore(), &http.Client{Timeout: time.Second})

	_, errName := sources.Create(context.Background(), "", "https://example.com/list.txt", true)
	require.ErrorIs(t, errName, access.ErrSourceName)

	_, errURL := sources.Create(context.Background(), "vpn", "not a url", true)
	require.ErrorIs(t, errURL, access.ErrSourceURL)

	source, errCreate := sources.Create(context.Background(), "vpn", "https://example.com/list.txt", true)
	require.NoError(t, errCreate)
	require.NotZero(t, source.SourceID)

	_, errMissing := sources.Get(context.Background(), 9999)
	require.ErrorIs(t, errMissing, database.ErrNoResult)
}

func TestSourceSyncMirrorsRanges(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write([]byte("# vpn ranges\n10.0.0.0/8\n172.16.0.0/12\nnot-a-range\n192.0.2.1\n\n"))
	}))
	defer server.Close()

	store := newMemStore()
	sources := access.NewSources(store, server.Client())

	_, errCreate := sources.Create(context.Background(), "vpn", server.URL, true)
	require.NoError(t, errCreate)

	sources.Sync(context.Background())

	checker := access.NewBlacklistChecker(store, time.Second)

	blocked, entry := checker.IsBlocked(context.Background(), "10.5.0.7")
	require.True(t, blocked)
	require.NotNil(t, entry)
	require.Equal(t, "listed by vpn", entry.Reason)

	// Bare addresses in the list are widened to /32 ranges.
	single, _ := checker.IsBlocked(context.Background(), "192.0.2.1")
	require.True(t, single)

	clean, _ := checker.IsBlocked(context.Background(), "8.8.8.8")
	require.False(t, clean)
}

func TestSourceSyncReplacesPreviousSnapshot(t *testing.T) {
	t.Parallel()

	var (
		payloadMu sync.Mutex
		payload   = "10.0.0.0/8\n"
	)

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		payloadMu.Lock()
		body := payload
		payloadMu.Unlock()

		_, _ = writer.Write([]byte(body))
	}))
	defer server.Close()

	store := newMemStore()
	sources := access.NewSources(store, server.Client())

	_, errCreate := sources.Create(context.Background(), "vpn", server.URL, true)
	require.NoError(t, errCreate)

	sources.Sync(context.Background())

	payloadMu.Lock()
	payload = "172.16.0.0/12\n"
	payloadMu.Unlock()

	sources.Sync(context.Background())

	checker := access.NewBlacklistChecker(store, time.Second)

	dropped, _ := checker.IsBlocked(context.Background(), "10.5.0.7")
	require.False(t, dropped)

	current, _ := checker.IsBlocked(context.Background(), "172.16.5.5")
	require.True(t, current)
}

func TestSourceSyncSkipsDisabled(t *testing.T) {
	t.Parallel()

	var hits int

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		hits++

		_, _ = writer.Write([]byte("10.0.0.0/8\n"))
	}))
	defer server.Close()

	store := newMemStore()
	sources := access.NewSources(store, server.Client())

	_, errCreate := sources.Create(context.Background(), "vpn", server.URL, false)
	require.NoError(t, errCreate)

	sources.Sync(context.Background())

	require.Equal(t, 0, hits)
}
