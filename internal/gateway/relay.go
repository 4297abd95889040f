package gateway

import (
	"bufio"
	"io"
	"net"
	"sync"

	litepool "github.com/relaygate/gatewayd/pkg/pool"
)

// relayBufferSize matches §4.6's fixed-size copy buffer.
const relayBufferSize = 8 * 1024

// relayBuffers recycles the copy buffers across relayed connections instead
// of allocating relayBufferSize bytes twice per Relaying Context; under
// sustained WebSocket/Publisher traffic this is the hottest allocation in
// the proxy path.
var relayBuffers = litepool.NewLitePool(func() []byte {
	return make([]byte, relayBufferSize)
})

// startRelay runs the two concurrent copy loops described in §4.6: one
// client->origin, one origin->client. Both directions read through the
// bufio.Readers left over from the handshake (c.reader for the client side,
// originReader for the origin side) rather than the bare net.Conns, so bytes
// the peer coalesced into the same TCP segment as the 101 response - a
// piggy-backed first WebSocket frame - aren't stranded in a discarded
// buffer. A single mutex (peerClosed) guards the "has the peer closed yet?"
// test; the actual I/O runs outside the lock.
func startRelay(c *Context, origin net.Conn, originReader *bufio.Reader) {
	var mu sync.Mutex
	peerClosed := false
	var wg sync.WaitGroup
	wg.Add(2)

	markPeerClosed := func() (alreadyClosed bool) {
		mu.Lock()
		defer mu.Unlock()
		alreadyClosed = peerClosed
		peerClosed = true
		return alreadyClosed
	}

	go func() {
		defer wg.Done()
		buf := relayBuffers.Get()
		defer relayBuffers.Put(buf)
		n, _ := io.CopyBuffer(origin, c.reader, buf)
		c.bytesIn.Add(n)
		_ = origin.Close()
		if markPeerClosed() {
			c.discard()
		}
	}()

	go func() {
		defer wg.Done()
		buf := relayBuffers.Get()
		defer relayBuffers.Put(buf)
		n, _ := io.CopyBuffer(c.conn, originReader, buf)
		c.bytesOut.Add(n)
		_ = c.conn.Close()
		if markPeerClosed() {
			c.discard()
		}
	}()

	wg.Wait()
}
