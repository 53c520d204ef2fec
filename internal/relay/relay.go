// Package relay is the room server participants connect to. It accepts both
// transport variants on the lobby route and fans every frame out to the other
// members of the sender's room. It never decodes payloads beyond the packet
// type, so sealed media passes through untouched.
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/signaling"
	"github.com/1ureka/callcore/internal/transport"
	"github.com/1ureka/callcore/internal/util"
)

// DefaultNegotiateTimeout bounds the server side of a WebRTC negotiation.
const DefaultNegotiateTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	DisableWebRTC    bool // answer transport=webrtc with 404
	RTC              transport.RTCConfig
	NegotiateTimeout time.Duration
}

// Server keeps the rooms and their members. The zero value is not usable;
// call New.
type Server struct {
	opts  Options
	stats util.Stats

	ctx    context.Context // ends every member on Close
	cancel context.CancelFunc

	mu    sync.Mutex
	rooms map[string]map[string]*member // room -> user -> member
}

type member struct {
	user string
	room string
	task *transport.Task
}

// New returns a Server with no rooms.
func New(opts Options) *Server {
	if opts.NegotiateTimeout <= 0 {
		opts.NegotiateTimeout = DefaultNegotiateTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]map[string]*member),
	}
}

// Handler returns the HTTP handler serving GET /lobby/{user}/{room}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /lobby/{user}/{room}", s.handleLobby)
	return mux
}

// Stats returns the relay-wide traffic counters.
func (s *Server) Stats() *util.Stats { return &s.stats }

// Members returns the users currently in room.
func (s *Server) Members(room string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.rooms[room]))
	for u := range s.rooms[room] {
		users = append(users, u)
	}
	return users
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// member.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("relay listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends every member's task.
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	var all []*member
	for _, room := range s.rooms {
		for _, m := range room {
			all = append(all, m)
		}
	}
	s.rooms = make(map[string]map[string]*member)
	s.mu.Unlock()

	for _, m := range all {
		m.task.Close()
	}
}

// ---------------------------------------------------------------------------
// Lobby
// ---------------------------------------------------------------------------

func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	user, room := r.PathValue("user"), r.PathValue("room")
	webrtcRequested := r.URL.Query().Get("transport") == "webrtc"

	if webrtcRequested && s.opts.DisableWebRTC {
		http.NotFound(w, r)
		return
	}

	ws, err := signaling.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("lobby upgrade for %s failed: %v", user, err)
		return
	}

	var task *transport.Task
	if webrtcRequested {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.NegotiateTimeout)
		task, err = transport.AcceptWebRTC(ctx, ws, s.opts.RTC, &s.stats)
		cancel()
		if err != nil {
			util.LogWarning("webrtc negotiation with %s failed: %v", user, err)
			return
		}
	} else {
		task = transport.AcceptWebSocket(ws, &s.stats)
	}

	m := &member{user: user, room: room, task: task}
	s.join(m)
	go s.forward(m)
}

// join adds m to its room, replacing an earlier login of the same user.
func (s *Server) join(m *member) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		m.task.Close()
		return
	}
	members := s.rooms[m.room]
	if members == nil {
		members = make(map[string]*member)
		s.rooms[m.room] = members
	}
	prev := members[m.user]
	members[m.user] = m
	s.mu.Unlock()

	if prev != nil {
		util.LogInfo("%s logged in again to %s, closing the previous session", m.user, m.room)
		prev.task.Close()
	}
	util.LogSuccess("%s joined %s over %s", m.user, m.room, m.task.Kind())
}

// leave removes m unless a newer login already replaced it.
func (s *Server) leave(m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.rooms[m.room]
	if members[m.user] != m {
		return
	}
	delete(members, m.user)
	if len(members) == 0 {
		delete(s.rooms, m.room)
	}
}

// others returns the members of room except user.
func (s *Server) others(room, user string) []*member {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*member, 0, len(s.rooms[room]))
	for u, m := range s.rooms[room] {
		if u != user {
			out = append(out, m)
		}
	}
	return out
}

// forward copies m's frames to the rest of its room until m's task ends.
func (s *Server) forward(m *member) {
	defer func() {
		s.leave(m)
		m.task.Close()
		util.LogInfo("%s left %s: %v", m.user, m.room, m.task.Err())
	}()

	for {
		select {
		case frame := <-m.task.Inbound():
			// Packet types newer than this relay travel reliably; only
			// frames that cannot be parsed are dropped.
			typ, err := protocol.PeekType(frame)
			if err != nil && !protocol.IsDecodeKind(err, protocol.DecodeUnknownType) {
				s.stats.AddDropped()
				util.LogDrop(m.user, err)
				continue
			}
			lossy := err == nil && typ == protocol.PacketTypeMedia
			for _, peer := range s.others(m.room, m.user) {
				peer.task.SendBytes(frame, lossy)
			}
		case <-m.task.Done():
			return
		}
	}
}
