package pool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	net.Conn
	closed atomic.Bool
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func dialFake(t *testing.T) Dialer {
	t.Helper()
	var n int32
	return func(ctx context.Context) (Stream, error) {
		atomic.AddInt32(&n, 1)
		return &fakeConn{}, nil
	}
}

func TestPool_CheckoutDialsWhenIdleEmpty(t *testing.T) {
	p := newPool("origin:1", dialFake(t), DefaultMaxIdlePerPool)

	s, err := p.Checkout(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.TotalDialed)
	assert.Equal(t, int64(1), stats.TotalCheckouts)
}

func TestPool_CheckinThenCheckoutReusesStream(t *testing.T) {
	p := newPool("origin:1", dialFake(t), DefaultMaxIdlePerPool)

	s1, err := p.Checkout(context.Background())
	require.NoError(t, err)

	p.Checkin(s1)
	assert.Equal(t, 1, p.Stats().IdleCount)

	s2, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.Same(t, s1, s2, "checkout after checkin should return the same idle stream")
	assert.Equal(t, 0, p.Stats().IdleCount)
	assert.Equal(t, int64(1), p.Stats().TotalDialed, "reused stream should not trigger a second dial")
}

func TestPool_CheckinIsLIFO(t *testing.T) {
	p := newPool("origin:1", dialFake(t), DefaultMaxIdlePerPool)

	a, _ := p.Checkout(context.Background())
	b, _ := p.Checkout(context.Background())

	p.Checkin(a)
	p.Checkin(b)

	got, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.Same(t, b, got, "most recently checked-in stream should be handed out first")
}

func TestPool_NoDialPoolReturnsNilWhenEmpty(t *testing.T) {
	p := newPool("publisher:svc", nil, DefaultMaxIdlePerPool)

	s, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s, "a no-dial pool with nothing idle must return nil, not dial")
}

func TestPool_FreeConnectionFeedsNoDialPool(t *testing.T) {
	p := newPool("publisher:svc", nil, DefaultMaxIdlePerPool)

	p.FreeConnection(&fakeConn{})
	assert.Equal(t, 1, p.Stats().IdleCount)

	s, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestPool_CheckinRespectsMaxIdle(t *testing.T) {
	p := newPool("origin:1", dialFake(t), 1)

	p.Checkin(&fakeConn{})
	second := &fakeConn{}
	p.Checkin(second)

	assert.Equal(t, 1, p.Stats().IdleCount)
	assert.True(t, second.closed.Load(), "stream beyond maxIdle should be closed, not queued")
}

func TestPool_ReapIdleOlderThanClosesStaleStreams(t *testing.T) {
	p := newPool("origin:1", dialFake(t), DefaultMaxIdlePerPool)

	stale := &fakeConn{}
	fresh := &fakeConn{}

	p.mu.Lock()
	p.idle.PushBack(&idleEntry{stream: stale, idledAt: time.Now().Add(-time.Hour)})
	p.idle.PushBack(&idleEntry{stream: fresh, idledAt: time.Now()})
	p.mu.Unlock()

	p.reapIdleOlderThan(time.Minute)

	assert.True(t, stale.closed.Load())
	assert.False(t, fresh.closed.Load())
	assert.Equal(t, 1, p.Stats().IdleCount)
}

func TestPool_CloseDrainsIdleQueue(t *testing.T) {
	p := newPool("origin:1", dialFake(t), DefaultMaxIdlePerPool)
	a := &fakeConn{}
	p.Checkin(a)

	p.Close()

	assert.True(t, a.closed.Load())
	assert.Equal(t, 0, p.Stats().IdleCount)
}
