package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/transport"
)

func newTestRelay(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	s := New(opts)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		hs.Close()
	})
	return s, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func join(t *testing.T, base, user, room string) *transport.Task {
	t.Helper()
	task, err := transport.Connect(context.Background(), transport.Options{
		URL:           base + "/lobby/" + user + "/" + room,
		DisableWebRTC: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { task.Close() })
	return task
}

func frame(t *testing.T, sender string, typ protocol.PacketType, data string) []byte {
	t.Helper()
	pkt := &protocol.PacketWrapper{Type: typ, Sender: sender, Sequence: 1, Data: []byte(data)}
	if typ == protocol.PacketTypeMedia {
		pkt.MediaType = protocol.MediaTypeAudio
	}
	b, err := protocol.Encode(pkt)
	require.NoError(t, err)
	return b
}

func expectFrame(t *testing.T, task *transport.Task, want []byte) {
	t.Helper()
	select {
	case got := <-task.Inbound():
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
}

func expectSilence(t *testing.T, task *transport.Task) {
	t.Helper()
	select {
	case got := <-task.Inbound():
		t.Fatalf("unexpected frame %x", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func waitMembers(t *testing.T, s *Server, room string, want ...string) {
	t.Helper()
	sort.Strings(want)
	require.Eventually(t, func() bool {
		got := s.Members(room)
		sort.Strings(got)
		return assert.ObjectsAreEqual(want, got)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRelayFansOutWithinRoom(t *testing.T) {
	s, base := newTestRelay(t, Options{DisableWebRTC: true})

	amy := join(t, base, "amy", "standup")
	bob := join(t, base, "bob", "standup")
	zoe := join(t, base, "zoe", "standup")
	other := join(t, base, "eve", "retro")
	waitMembers(t, s, "standup", "amy", "bob", "zoe")

	control := frame(t, "amy", protocol.PacketTypeConnection, "hello")
	amy.SendBytes(control, false)
	expectFrame(t, bob, control)
	expectFrame(t, zoe, control)

	media := frame(t, "amy", protocol.PacketTypeMedia, "chunk")
	amy.SendBytes(media, true)
	expectFrame(t, bob, media)
	expectFrame(t, zoe, media)

	expectSilence(t, amy)
	expectSilence(t, other)
}

func TestRelayDropsUndecodableFrames(t *testing.T) {
	s, base := newTestRelay(t, Options{DisableWebRTC: true})

	amy := join(t, base, "amy", "standup")
	bob := join(t, base, "bob", "standup")
	waitMembers(t, s, "standup", "amy", "bob")

	amy.SendBytes([]byte{0xff}, false)
	expectSilence(t, bob)
	assert.EqualValues(t, 1, s.Stats().Snapshot().Dropped)
}

func TestRelayForwardsUnknownPacketTypes(t *testing.T) {
	s, base := newTestRelay(t, Options{DisableWebRTC: true})

	amy := join(t, base, "amy", "standup")
	bob := join(t, base, "bob", "standup")
	waitMembers(t, s, "standup", "amy", "bob")

	var newer []byte
	newer = protowire.AppendTag(newer, 1, protowire.VarintType)
	newer = protowire.AppendVarint(newer, 9)
	newer = protowire.AppendTag(newer, 2, protowire.BytesType)
	newer = protowire.AppendString(newer, "amy")
	newer = protowire.AppendTag(newer, 5, protowire.BytesType)
	newer = protowire.AppendBytes(newer, []byte("future"))

	amy.SendBytes(newer, false)
	expectFrame(t, bob, newer)
	assert.Zero(t, s.Stats().Snapshot().Dropped)
}

func TestRelaySecondLoginReplacesFirst(t *testing.T) {
	s, base := newTestRelay(t, Options{DisableWebRTC: true})

	first := join(t, base, "amy", "standup")
	waitMembers(t, s, "standup", "amy")
	second := join(t, base, "amy", "standup")

	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("first session still alive after a second login")
	}

	bob := join(t, base, "bob", "standup")
	waitMembers(t, s, "standup", "amy", "bob")

	msg := frame(t, "bob", protocol.PacketTypeConnection, "hi")
	bob.SendBytes(msg, false)
	expectFrame(t, second, msg)
}

func TestRelayMemberLeaves(t *testing.T) {
	s, base := newTestRelay(t, Options{DisableWebRTC: true})

	amy := join(t, base, "amy", "standup")
	join(t, base, "bob", "standup")
	waitMembers(t, s, "standup", "amy", "bob")

	require.NoError(t, amy.Close())
	waitMembers(t, s, "standup", "bob")
}

func TestRelayWebRTCDisabled(t *testing.T) {
	_, base := newTestRelay(t, Options{DisableWebRTC: true})

	resp, err := http.Get("http" + strings.TrimPrefix(base, "ws") + "/lobby/amy/standup?transport=webrtc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRelayCloseEndsMembers(t *testing.T) {
	s, base := newTestRelay(t, Options{DisableWebRTC: true})

	amy := join(t, base, "amy", "standup")
	waitMembers(t, s, "standup", "amy")

	s.Close()
	select {
	case <-amy.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("member still alive after Close")
	}
	assert.Empty(t, s.Members("standup"))
}
