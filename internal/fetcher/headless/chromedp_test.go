package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer f.Close()
	require.NotNil(t, f.slots)
	require.NoError(t, f.acquire(context.Background()))
	require.NoError(t, f.acquire(context.Background()))
	assert.False(t, f.slots.TryAcquire(1))
}

func TestFetcherTimeoutsDefault(t *testing.T) {
	t.Parallel()

	f := &Fetcher{}
	assert.Equal(t, 45*time.Second, f.navTimeout())
	assert.Equal(t, time.Second, f.settle())

	f.cfg.NavigationTimeout = time.Second
	f.cfg.SettleDelay = 200 * time.Millisecond
	assert.Equal(t, time.Second, f.navTimeout())
	assert.Equal(t, 200*time.Millisecond, f.settle())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	f := &Fetcher{slots: semaphore.NewWeighted(1)}
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.acquire(ctx), context.Canceled)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 500,
			URL:    "https://grqaser.org/covers/1.png",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 404,
			URL:    "https://grqaser.org/books/1",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "https://grqaser.org/books/1", url)

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)

	status, url = meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://req", url)
}
