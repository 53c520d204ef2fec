// Package connection is the per-participant façade of a call. A Connection
// composes a transport Task and, with E2EE on, a KeyExchange; it frames
// outbound media, routes inbound packets and reports what happened through
// a single event loop.
package connection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/1ureka/callcore/internal/e2ee"
	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/transport"
	"github.com/1ureka/callcore/internal/util"
)

const eventBufferSize = 256

var (
	// ErrNotConnected is returned by the send methods without a live
	// transport.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("connection: closed")
)

// Connection owns at most one live attempt: a transport Task plus the
// KeyExchange created for it. Attempts are never reused; Connect after a
// loss starts a fresh one.
type Connection struct {
	opts  Options
	stats util.Stats

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}

	connectMu sync.Mutex // serializes Connect and Disconnect

	mu      sync.Mutex
	attempt *attempt

	peersMu sync.RWMutex
	peers   map[string]*peerInfo
}

// attempt is the state of one Connect call that succeeded.
type attempt struct {
	task *transport.Task
	kx   *e2ee.KeyExchange // nil with E2EE off
	seq  SeqGen

	ctx    context.Context // cancelled on teardown
	cancel context.CancelFunc
	wg     sync.WaitGroup

	endOnce sync.Once
}

// peerInfo is what the registry tracks per remote participant.
type peerInfo struct {
	lastSeen   time.Time
	firstFrame map[protocol.MediaType]bool
	reorder    map[protocol.MediaType]*reorderBuffer // video and screen streams
}

// New validates opts and starts the event loop. The Connection is idle
// until Connect.
func New(opts Options) (*Connection, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := &Connection{
		opts:     opts,
		events:   make(chan Event, eventBufferSize),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
		peers:    make(map[string]*peerInfo),
	}
	go c.run()
	return c, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect establishes the transport, trying WebRTC before the WebSocket
// fallback, and starts the key exchange. Calling it while connected is a
// no-op. On success OnConnected fires once the local key is out; with E2EE
// on, readable media is signalled later through OnKeyEstablished.
//
// Connect must not be called concurrently with itself; a second caller
// waits for the first.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	prev := c.attempt
	c.mu.Unlock()
	if prev != nil {
		if prev.task.Alive() {
			return nil
		}
		// The old readLoop must be gone before the registry is reused.
		c.teardown(prev, false, nil)
		prev.wg.Wait()
	}

	task, err := transport.Connect(ctx, transport.Options{
		URL:            c.opts.TransportURL,
		PrimaryTimeout: c.opts.PrimaryTimeout,
		DisableWebRTC:  c.opts.DisableWebRTC,
		RTC: transport.RTCConfig{
			ICEServers:      c.opts.ICEServers,
			IncludeLoopback: c.opts.IncludeLoopback,
		},
		Stats: &c.stats,
	})
	if err != nil {
		util.LogError("failed to connect as %s: %v", c.opts.UserID, err)
		return err
	}

	a := &attempt{task: task}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if c.opts.EnableE2EE {
		a.kx = e2ee.New(c.opts.UserID)
		if err := a.kx.Generate(); err != nil {
			a.cancel()
			task.Close()
			util.LogError("key generation failed: %v", err)
			return err
		}
	}

	c.mu.Lock()
	c.attempt = a
	c.mu.Unlock()

	a.wg.Add(2)
	go c.readLoop(a)
	go c.watch(a)
	if c.opts.HeartbeatInterval > 0 {
		a.wg.Add(1)
		go c.heartbeat(a)
	}
	if c.opts.PeerTimeout > 0 {
		a.wg.Add(1)
		go c.prune(a)
	}

	c.sendControl(a, protocol.PacketTypeConnection, (&protocol.ConnectionPacket{MeetingID: c.opts.meetingID()}).Marshal())
	if a.kx != nil {
		c.broadcastPublicKey(a)
	}

	util.LogSuccess("%s connected over %s", c.opts.UserID, task.Kind())
	c.emit(Event{Kind: EventConnected})
	return nil
}

// Disconnect tears down the current attempt and waits until none of its
// goroutines touches the transport any more. OnConnectionLost does not fire.
// Calling it while disconnected is a no-op.
func (c *Connection) Disconnect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	a := c.attempt
	c.attempt = nil
	c.mu.Unlock()

	if a == nil {
		return nil
	}
	c.teardown(a, false, nil)
	a.wg.Wait()
	return nil
}

// Close disconnects and stops the event loop. No callback runs after Close
// returns, except one that was already executing.
func (c *Connection) Close() error {
	err := c.Disconnect()
	c.closeOnce.Do(func() { close(c.closed) })
	return err
}

// Done returns a channel that is closed once the event loop has stopped.
func (c *Connection) Done() <-chan struct{} { return c.loopDone }

// IsConnected reports transport liveness. It says nothing about the key
// exchange: media may still be dropped while it is true.
func (c *Connection) IsConnected() bool {
	a := c.current()
	return a != nil && a.task.Alive()
}

// KeyEstablished reports whether outbound media is being encrypted. It is
// always false with E2EE off.
func (c *Connection) KeyEstablished() bool {
	a := c.current()
	return a != nil && a.kx != nil && a.kx.Established()
}

// Transport returns the variant of the live transport.
func (c *Connection) Transport() (transport.Kind, bool) {
	a := c.current()
	if a == nil {
		return 0, false
	}
	return a.task.Kind(), true
}

// Stats returns the traffic counters of this Connection.
func (c *Connection) Stats() util.StatsSnapshot { return c.stats.Snapshot() }

// StatsCounters exposes the live counters, e.g. for a periodic reporter.
func (c *Connection) StatsCounters() *util.Stats { return &c.stats }

// SortedPeerKeys returns the ids of the known peers in lexicographic order.
// It is recomputed on every call.
func (c *Connection) SortedPeerKeys() []string {
	c.peersMu.RLock()
	keys := make([]string, 0, len(c.peers))
	for id := range c.peers {
		keys = append(keys, id)
	}
	c.peersMu.RUnlock()

	sort.Strings(keys)
	return keys
}

func (c *Connection) current() *attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// teardown ends an attempt exactly once: it stops the attempt's goroutines,
// closes the transport, wipes the key material and forgets the peers. With
// notify set, OnConnectionLost fires with reason.
func (c *Connection) teardown(a *attempt, notify bool, reason error) {
	a.endOnce.Do(func() {
		a.cancel()
		a.task.Close()
		if a.kx != nil {
			a.kx.Reset()
		}

		c.peersMu.Lock()
		c.peers = make(map[string]*peerInfo)
		c.peersMu.Unlock()

		if notify {
			util.LogWarning("%s lost its connection: %v", c.opts.UserID, reason)
			select {
			case c.events <- Event{Kind: EventConnectionLost, Err: reason}:
			case <-c.closed:
			}
		}
	})
}

// watch waits for the transport to die and reports the loss.
func (c *Connection) watch(a *attempt) {
	defer a.wg.Done()
	select {
	case <-a.task.Done():
		c.teardown(a, true, a.task.Err())
	case <-a.ctx.Done():
	}
}

// emit queues an event for the loop. It gives up once the Connection is
// closed.
func (c *Connection) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

// emitFor is emit for goroutines of an attempt, which must not outlive it.
func (c *Connection) emitFor(a *attempt, ev Event) {
	select {
	case c.events <- ev:
	case <-a.ctx.Done():
	case <-c.closed:
	}
}
