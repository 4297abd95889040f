// Package pool implements the gateway's origin connection pool: a
// reference-counted, registry-keyed cache of net.Conn values shared across
// every Provider that forwards to the same endpoint. See spec §4.1.
package pool

import (
	"container/list"
	"context"
	"net"
	"sync"
	"time"
)

// Stream is the pooled connection type. net.Conn satisfies it directly; the
// bidirectional relay (internal/gateway) only ever needs net.Conn's methods.
type Stream = net.Conn

// Dialer dials a fresh Stream for a pool's endpoint key. A Pool built with
// init=false (the Publisher case, §4.5) is never given one and never dials.
type Dialer func(ctx context.Context) (Stream, error)

// idleEntry records when a stream was checked in, so the reaper can close
// streams that have sat idle past the Registry's max idle age.
type idleEntry struct {
	stream  Stream
	idledAt time.Time
}

// Pool is the per-endpoint connection cache. Idle streams are kept in a LIFO
// queue (container/list used as a stack) to favour warm connections, per
// §4.1's algorithm.
type Pool struct {
	mu      sync.Mutex
	idle    *list.List // of *idleEntry, back = most recently released
	dial    Dialer
	noDial  bool
	maxIdle int
	key     string

	acquisitions int32 // reference count held by the registry

	// stats, surfaced at /debug/pools
	totalDialed    int64
	totalCheckouts int64
	totalCheckins  int64
}

func newPool(key string, dial Dialer, maxIdle int) *Pool {
	return &Pool{
		idle:    list.New(),
		dial:    dial,
		noDial:  dial == nil,
		maxIdle: maxIdle,
		key:     key,
	}
}

// Checkout returns an idle pooled stream if one exists, otherwise dials a
// fresh one - unless the pool was built with init=false, in which case an
// empty idle queue means "not available" (nil, nil): the caller (Publisher)
// interprets that as "ask the controller to attach one".
func (p *Pool) Checkout(ctx context.Context) (Stream, error) {
	p.mu.Lock()
	if back := p.idle.Back(); back != nil {
		p.idle.Remove(back)
		p.totalCheckouts++
		entry := back.Value.(*idleEntry)
		p.mu.Unlock()
		return entry.stream, nil
	}
	noDial := p.noDial
	dial := p.dial
	p.mu.Unlock()

	if noDial {
		return nil, nil
	}

	stream, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.totalDialed++
	p.totalCheckouts++
	p.mu.Unlock()
	return stream, nil
}

// Checkin returns a stream to the idle set. A caller that knows the stream
// is unhealthy (a failed read/write happened on it) must close it itself
// and never call Checkin - §4.1 and §8's "failed checkout is closed, not
// checked back in" invariant.
func (p *Pool) Checkin(stream Stream) {
	if stream == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalCheckins++
	if p.maxIdle > 0 && p.idle.Len() >= p.maxIdle {
		p.mu.Unlock()
		_ = stream.Close()
		p.mu.Lock()
		return
	}
	p.idle.PushBack(&idleEntry{stream: stream, idledAt: time.Now()})
}

// FreeConnection hands a connection directly to the idle queue, bypassing
// Dial entirely. This is how a Publisher's SubscriberAcceptor feeds a
// reverse-dialed stream into a no-dial pool (§4.5, §6 reverse-attach step 4).
func (p *Pool) FreeConnection(stream Stream) {
	p.Checkin(stream)
}

// reapIdleOlderThan closes and drops idle streams that have been sitting
// past maxAge; called periodically by the Registry's reaper goroutine.
func (p *Pool) reapIdleOlderThan(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	p.mu.Lock()
	var toClose []Stream
	for e := p.idle.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(*idleEntry)
		if entry.idledAt.Before(cutoff) {
			toClose = append(toClose, entry.stream)
			p.idle.Remove(e)
		}
		e = next
	}
	p.mu.Unlock()
	for _, s := range toClose {
		_ = s.Close()
	}
}

// Stats is a snapshot for /debug/pools.
type Stats struct {
	Key            string
	IdleCount      int
	Acquisitions   int32
	TotalDialed    int64
	TotalCheckouts int64
	TotalCheckins  int64
	NoDial         bool
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Key:            p.key,
		IdleCount:      p.idle.Len(),
		Acquisitions:   p.acquisitions,
		TotalDialed:    p.totalDialed,
		TotalCheckouts: p.totalCheckouts,
		TotalCheckins:  p.totalCheckins,
		NoDial:         p.noDial,
	}
}

// Close drains and closes every idle stream. Called by the Registry once a
// pool's acquisition count reaches zero.
func (p *Pool) Close() {
	p.mu.Lock()
	var toClose []Stream
	for e := p.idle.Front(); e != nil; e = e.Next() {
		toClose = append(toClose, e.Value.(*idleEntry).stream)
	}
	p.idle.Init()
	p.mu.Unlock()
	for _, s := range toClose {
		_ = s.Close()
	}
}
