package record

import (
	"os"
	"testing"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/callcore/internal/protocol"
)

func audio(ts float64, data string) *protocol.MediaPacket {
	return &protocol.MediaPacket{
		MediaType:   protocol.MediaTypeAudio,
		Data:        []byte(data),
		TimestampMs: ts,
		DurationMs:  20,
		Audio:       &protocol.AudioMetadata{SampleRate: 48000, Channels: 1},
	}
}

func TestRecorderWritesPlayableOgg(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, r.Write("amy@example.com", audio(0, "one")))
	require.NoError(t, r.Write("amy@example.com", audio(20, "two")))
	require.NoError(t, r.Write("amy@example.com", &protocol.MediaPacket{MediaType: protocol.MediaTypeVideo, Data: []byte("ignored")}))
	require.NoError(t, r.Close())

	f, err := os.Open(r.Path("amy@example.com"))
	require.NoError(t, err)
	defer f.Close()

	reader, header, err := oggreader.NewWith(f)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), header.Channels)
	assert.Equal(t, uint32(48000), header.SampleRate)

	var pages []string
	for {
		page, _, err := reader.ParseNextPage()
		if err != nil {
			break
		}
		pages = append(pages, string(page))
	}
	require.Len(t, pages, 3)
	assert.Contains(t, pages[0], "OpusTags")
	assert.Equal(t, []string{"one", "two"}, pages[1:])
}

func TestRecorderSeparatesPeers(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Write("amy", audio(0, "a")))
	require.NoError(t, r.Write("bob", audio(0, "b")))

	assert.NotEqual(t, r.Path("amy"), r.Path("bob"))
	assert.FileExists(t, r.Path("amy"))
	assert.FileExists(t, r.Path("bob"))
}

func TestRecorderClosed(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Error(t, r.Write("amy", audio(0, "late")))
}
