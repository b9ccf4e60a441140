package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/resilience"
)

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(ctx context.Context) (*indexer.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &indexer.Snapshot{Version: "v1"}, nil
}

func TestHandleMessageReloads(t *testing.T) {
	r := &fakeReloader{}
	handle := HandleMessage(r)

	err := handle(context.Background(), []byte("corpus"), []byte(`{"reason":"nightly export","requested_at":"2024-05-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
}

func TestHandleMessageSkipsMalformed(t *testing.T) {
	r := &fakeReloader{}
	handle := HandleMessage(r)

	err := resilience.Retry(context.Background(), "test", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return handle(context.Background(), nil, []byte(`not json`))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding kafka message")
	assert.Equal(t, 0, r.calls)
}

func TestHandleMessageReturnsReloadError(t *testing.T) {
	r := &fakeReloader{err: errors.New("source down")}
	handle := HandleMessage(r)

	err := handle(context.Background(), nil, []byte(`{"reason":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source down")
}
