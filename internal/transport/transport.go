// Package transport moves encoded frames between a participant and the relay.
//
// A Task is one live link. It is a closed variant: WebRTC DataChannels, the
// low-latency primary, or a WebSocket, the reliable fallback. Connect tries
// the primary under a timeout and falls back automatically.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/1ureka/callcore/internal/util"
)

// DefaultPrimaryTimeout bounds the WebRTC negotiation before Connect falls
// back to the WebSocket variant.
const DefaultPrimaryTimeout = 5 * time.Second

// Kind names a Task variant.
type Kind int

const (
	KindWebRTC Kind = iota
	KindWebSocket
)

func (k Kind) String() string {
	switch k {
	case KindWebRTC:
		return "webrtc"
	case KindWebSocket:
		return "websocket"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Options configures Connect.
type Options struct {
	URL            string        // ws:// or wss:// lobby URL
	PrimaryTimeout time.Duration // zero means DefaultPrimaryTimeout
	DisableWebRTC  bool          // go straight to the WebSocket variant
	RTC            RTCConfig
	Stats          *util.Stats // traffic counters; nil allocates private ones
}

// Task is the live transport of one connection. Exactly one of the variant
// fields is set, matching kind.
type Task struct {
	kind Kind
	rtc  *rtcTask
	ws   *wsTask
}

// Connect establishes a Task to opts.URL. It tries the WebRTC variant first,
// bounded by opts.PrimaryTimeout, then the WebSocket variant. Only when every
// variant failed does it return a *ConnectError.
func Connect(ctx context.Context, opts Options) (*Task, error) {
	timeout := opts.PrimaryTimeout
	if timeout <= 0 {
		timeout = DefaultPrimaryTimeout
	}
	cerr := &ConnectError{URL: opts.URL}

	if !opts.DisableWebRTC {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		task, err := dialWebRTC(pctx, opts)
		cancel()
		if err == nil {
			util.LogSuccess("connected to %s over WebRTC", opts.URL)
			return task, nil
		}

		util.LogWarning("WebRTC transport failed, falling back to WebSocket: %v", err)
		cerr.Attempts = append(cerr.Attempts, Attempt{Kind: KindWebRTC, Err: err})
		if ctx.Err() != nil {
			return nil, cerr
		}
	}

	task, err := dialWebSocket(ctx, opts)
	if err != nil {
		cerr.Attempts = append(cerr.Attempts, Attempt{Kind: KindWebSocket, Err: err})
		return nil, cerr
	}
	util.LogSuccess("connected to %s over WebSocket", opts.URL)
	return task, nil
}

// ---------------------------------------------------------------------------
// Variant dispatch
// ---------------------------------------------------------------------------

func (t *Task) base() *lifecycle {
	switch t.kind {
	case KindWebRTC:
		return &t.rtc.lifecycle
	case KindWebSocket:
		return &t.ws.lifecycle
	}
	panic(fmt.Sprintf("transport: unknown task kind %d", t.kind))
}

// Kind returns the variant of t.
func (t *Task) Kind() Kind { return t.kind }

// SendBytes queues one encoded frame. It is fire-and-forget: transient
// failures are logged and counted, a failure that kills the link ends the
// Task (see Done and Err). Lossy frames travel on the unreliable media
// channel where there is one and are dropped rather than queued behind a
// congested link.
func (t *Task) SendBytes(data []byte, lossy bool) {
	f := outbound{data: data, lossy: lossy}
	switch t.kind {
	case KindWebRTC:
		t.rtc.sender.send(t.rtc.ctx, f)
	case KindWebSocket:
		t.ws.sender.send(t.ws.ctx, f)
	}
}

// Inbound returns the channel of received frames. It is never closed;
// select on Done as well.
func (t *Task) Inbound() <-chan []byte { return t.base().inbound }

// Done returns a channel that is closed when the Task has ended.
func (t *Task) Done() <-chan struct{} { return t.base().ctx.Done() }

// Err returns why the Task ended, or nil while it is alive. A Task closed by
// its owner reports ErrClosed.
func (t *Task) Err() error { return t.base().reason() }

// Alive reports whether the link is still usable.
func (t *Task) Alive() bool { return t.base().ctx.Err() == nil }

// Close ends the Task and releases the socket before returning.
func (t *Task) Close() error {
	switch t.kind {
	case KindWebRTC:
		return t.rtc.close(ErrClosed)
	case KindWebSocket:
		return t.ws.close(ErrClosed)
	}
	return nil
}

// withTransportQuery returns raw with transport=variant added to its query.
func withTransportQuery(raw, variant string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	q := u.Query()
	q.Set("transport", variant)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
