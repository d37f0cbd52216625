package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// countingSource is an upstream listener that records how often it was started.
type countingSource struct {
	calls   atomic.Int32
	mu      sync.Mutex
	handle  func(string)
	started chan struct{}
	stopped chan struct{}
	fail    chan error
}

func newCountingSource() *countingSource {
	return &countingSource{
		started: make(chan struct{}, 8),
		stopped: make(chan struct{}, 8),
		fail:    make(chan error, 1),
	}
}

func (s *countingSource) Listen(ctx context.Context, _ string, handle func(string)) error {
	s.calls.Add(1)
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	s.started <- struct{}{}
	defer func() { s.stopped <- struct{}{} }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-s.fail:
		return err
	}
}

func (s *countingSource) fire(payload string) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	h(payload)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSharedListenerUsesOneUpstreamListen(t *testing.T) {
	src := newCountingSource()
	shared := NewSharedListener(src, logging.Nop())

	const subscribers = 8
	var received atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < subscribers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := shared.Listen(ctx, ChangeChannel, func(string) { received.Add(1) })
			assert.ErrorIs(t, err, context.Canceled)
		}()
	}
	waitFor(t, src.started, "upstream listen")
	require.Eventually(t, func() bool {
		shared.mu.Lock()
		defer shared.mu.Unlock()
		p := shared.pumps[ChangeChannel]
		return p != nil && len(p.subs) == subscribers
	}, 2*time.Second, 5*time.Millisecond)

	src.fire(CollectionAppointments)
	assert.Equal(t, int32(subscribers), received.Load())
	assert.Equal(t, int32(1), src.calls.Load())

	cancel()
	wg.Wait()
	waitFor(t, src.stopped, "upstream stop after last subscriber left")
}

func TestSharedListenerPropagatesUpstreamFailure(t *testing.T) {
	src := newCountingSource()
	shared := NewSharedListener(src, logging.Nop())

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- shared.Listen(context.Background(), ChangeChannel, func(string) {}) }()
	}
	waitFor(t, src.started, "upstream listen")
	require.Eventually(t, func() bool {
		shared.mu.Lock()
		defer shared.mu.Unlock()
		p := shared.pumps[ChangeChannel]
		return p != nil && len(p.subs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	connLost := errors.New("connection reset")
	src.fail <- connLost
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, connLost)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not see the failure")
		}
	}

	// the next subscriber restarts the upstream listener
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = shared.Listen(ctx, ChangeChannel, func(string) {})
	}()
	waitFor(t, src.started, "upstream restart")
	assert.Equal(t, int32(2), src.calls.Load())
	cancel()
	<-done
}

func TestPostgresStoreSubscriptionsShareListener(t *testing.T) {
	s, mock := newMockStore(t)
	src := newCountingSource()
	shared := NewSharedListener(src, logging.Nop())
	s.listener = shared
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 6; i++ {
		mock.ExpectQuery("SELECT id, data FROM documents").
			WithArgs(CollectionAppointments).
			WillReturnRows(pgxmock.NewRows([]string{"id", "data"}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emitted := make(chan struct{}, 16)
	for i := 0; i < 3; i++ {
		unsubscribe, err := s.Subscribe(ctx, CollectionAppointments, nil, nil, func([]Document) { emitted <- struct{}{} })
		require.NoError(t, err)
		defer unsubscribe()
	}
	for i := 0; i < 3; i++ {
		waitFor(t, emitted, "initial emission")
	}
	waitFor(t, src.started, "upstream listen")
	require.Eventually(t, func() bool {
		shared.mu.Lock()
		defer shared.mu.Unlock()
		p := shared.pumps[ChangeChannel]
		return p != nil && len(p.subs) == 3
	}, 2*time.Second, 5*time.Millisecond)

	src.fire(CollectionAppointments)
	for i := 0; i < 3; i++ {
		waitFor(t, emitted, "emission after notify")
	}
	assert.Equal(t, int32(1), src.calls.Load(), "three subscriptions, one LISTEN")
}
