package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AcquireInternsByKey(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	p1 := r.Acquire("tcp:10.0.0.1:80", dialFake(t))
	p2 := r.Acquire("tcp:10.0.0.1:80", dialFake(t))

	assert.Same(t, p1, p2, "same endpoint key should intern to the same pool")
	assert.Len(t, r.Snapshot(), 1)
}

func TestRegistry_ReleaseDestroysAtZeroRefcount(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	p := r.Acquire("tcp:10.0.0.1:80", dialFake(t))
	stream, err := p.Checkout(context.Background())
	require.NoError(t, err)
	p.Checkin(stream)

	r.Release("tcp:10.0.0.1:80")
	assert.Empty(t, r.Snapshot(), "pool should be removed from the registry once its share count hits zero")

	fc := stream.(*fakeConn)
	assert.True(t, fc.closed.Load(), "idle streams must be closed when the pool is destroyed")
}

func TestRegistry_ReleaseKeepsPoolAliveWhileSharesRemain(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	r.Acquire("tcp:10.0.0.1:80", dialFake(t))
	r.Acquire("tcp:10.0.0.1:80", dialFake(t))

	r.Release("tcp:10.0.0.1:80")
	assert.Len(t, r.Snapshot(), 1, "one remaining share should keep the pool registered")
}

func TestRegistry_DistinctKeysGetDistinctPools(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown()

	r.Acquire("tcp:10.0.0.1:80", dialFake(t))
	r.Acquire("tcp:10.0.0.2:80", dialFake(t))

	assert.Len(t, r.Snapshot(), 2)
}
