package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/callcore/internal/signaling"
	"github.com/1ureka/callcore/internal/util"
)

const (
	maxFrameSize = 1 << 20 // read limit per WebSocket message
	writeWait    = 10 * time.Second
	pongWait     = 45 * time.Second
	pingPeriod   = 20 * time.Second
)

// wsTask carries binary frames over one WebSocket. Every frame is reliable,
// so lossy frames only differ in how they queue.
type wsTask struct {
	lifecycle

	conn   *websocket.Conn
	sender *sender
}

func newWSTask(conn *websocket.Conn, stats *util.Stats) *wsTask {
	t := &wsTask{conn: conn}
	t.init(stats)
	t.sender = newSender(t.stats)

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.readLoop()
	go t.writeLoop()
	return t
}

func (t *wsTask) readLoop() {
	for {
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			t.fail(fmt.Errorf("websocket read: %w", err))
			return
		}
		if typ != websocket.BinaryMessage {
			util.LogDebug("ignoring non-binary WebSocket message (%d bytes)", len(data))
			continue
		}
		t.deliver(data)
	}
}

// writeLoop is the single writer of the WebSocket. It also sends the
// keepalive pings and closes the socket once the Task ends.
func (t *wsTask) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer t.conn.Close()

	for {
		select {
		case f := <-t.sender.inbox:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.BinaryMessage, f.data); err != nil {
				t.fail(&SendError{Kind: KindWebSocket, Lossy: f.lossy, Err: err})
				return
			}
			t.stats.AddSent(len(f.data))

		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				t.fail(&SendError{Kind: KindWebSocket, Err: fmt.Errorf("ping: %w", err)})
				return
			}

		case <-t.ctx.Done():
			return
		}
	}
}

// close ends the Task with reason, says goodbye and releases the socket.
func (t *wsTask) close(reason error) error {
	t.fail(reason)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// dialWebSocket connects the fallback variant to the plain lobby URL.
func dialWebSocket(ctx context.Context, opts Options) (*Task, error) {
	conn, err := signaling.DialWS(ctx, opts.URL)
	if err != nil {
		return nil, err
	}
	return &Task{kind: KindWebSocket, ws: newWSTask(conn, opts.Stats)}, nil
}

// AcceptWebSocket builds the relay-side Task on an upgraded WebSocket.
func AcceptWebSocket(conn *websocket.Conn, stats *util.Stats) *Task {
	return &Task{kind: KindWebSocket, ws: newWSTask(conn, stats)}
}
