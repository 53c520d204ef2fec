// Package config gathers the settings of the callcore binaries. Values come
// from command-line flags, which default to environment variables, which in
// turn may be loaded from a .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by Load*.
const (
	EnvUser           = "CALLCORE_USER"
	EnvRoom           = "CALLCORE_ROOM"
	EnvRelayURL       = "CALLCORE_RELAY_URL"
	EnvE2EE           = "CALLCORE_E2EE"
	EnvDisableWebRTC  = "CALLCORE_DISABLE_WEBRTC"
	EnvPrimaryTimeout = "CALLCORE_PRIMARY_TIMEOUT"
	EnvICEServers     = "CALLCORE_ICE_SERVERS"
	EnvVideoFile      = "CALLCORE_VIDEO_FILE"
	EnvAudioFile      = "CALLCORE_AUDIO_FILE"
	EnvRecordDir      = "CALLCORE_RECORD_DIR"
	EnvListenAddr     = "CALLCORE_LISTEN"
	EnvDebug          = "CALLCORE_DEBUG"
)

// Participant configures cmd/callcore.
type Participant struct {
	UserID   string
	Room     string
	RelayURL string // ws:// or wss:// base of the relay, without the lobby path

	EnableE2EE     bool
	DisableWebRTC  bool
	PrimaryTimeout time.Duration
	ICEServers     []string

	VideoFile string // IVF file played as the camera
	AudioFile string // Opus Ogg file played as the microphone
	Loop      bool
	RecordDir string // where inbound audio is recorded, empty disables

	StatsInterval time.Duration
	Debug         bool
}

// Relay configures cmd/relay.
type Relay struct {
	Addr          string
	DisableWebRTC bool
	ICEServers    []string
	StatsInterval time.Duration
	Debug         bool
}

// LoadParticipant parses args over the environment. Missing identity
// fields are not an error here; the caller may prompt for them and must
// call Validate afterwards.
func LoadParticipant(args []string, envFiles ...string) (*Participant, error) {
	if err := loadEnv(envFiles...); err != nil {
		return nil, err
	}

	primary, err := envDuration(EnvPrimaryTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	e2ee, err := envBool(EnvE2EE, true)
	if err != nil {
		return nil, err
	}
	noRTC, err := envBool(EnvDisableWebRTC, false)
	if err != nil {
		return nil, err
	}
	debug, err := envBool(EnvDebug, false)
	if err != nil {
		return nil, err
	}

	p := &Participant{}
	var ice string

	flags := flag.NewFlagSet("callcore", flag.ContinueOnError)
	flags.StringVar(&p.UserID, "user", os.Getenv(EnvUser), "Participant id")
	flags.StringVar(&p.Room, "room", os.Getenv(EnvRoom), "Meeting room to join")
	flags.StringVar(&p.RelayURL, "relay", os.Getenv(EnvRelayURL), "Relay URL (ws:// or wss://)")
	flags.BoolVar(&p.EnableE2EE, "e2ee", e2ee, "Encrypt media end to end")
	flags.BoolVar(&p.DisableWebRTC, "no-webrtc", noRTC, "Skip WebRTC and use the WebSocket transport")
	flags.DurationVar(&p.PrimaryTimeout, "primary-timeout", primary, "How long to try WebRTC before falling back")
	flags.StringVar(&ice, "ice", os.Getenv(EnvICEServers), "Comma-separated STUN/TURN URLs")
	flags.StringVar(&p.VideoFile, "video", os.Getenv(EnvVideoFile), "IVF file to send as camera video")
	flags.StringVar(&p.AudioFile, "audio", os.Getenv(EnvAudioFile), "Opus Ogg file to send as microphone audio")
	flags.BoolVar(&p.Loop, "loop", true, "Replay media files when they end")
	flags.StringVar(&p.RecordDir, "record", os.Getenv(EnvRecordDir), "Directory to record peers' audio into")
	flags.DurationVar(&p.StatsInterval, "stats", time.Second, "Traffic report interval, 0 disables")
	flags.BoolVar(&p.Debug, "debug", debug, "Enable debug logging")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	p.ICEServers = splitList(ice)
	return p, nil
}

// Validate reports the first missing or malformed field.
func (p *Participant) Validate() error {
	if p.UserID == "" {
		return errors.New("missing user id")
	}
	if p.Room == "" {
		return errors.New("missing room")
	}
	if _, err := NormalizeRelayURL(p.RelayURL); err != nil {
		return err
	}
	return nil
}

// LobbyURL is the URL the participant connects to:
// <relay>/lobby/<user>/<room>.
func (p *Participant) LobbyURL() (string, error) {
	base, err := NormalizeRelayURL(p.RelayURL)
	if err != nil {
		return "", err
	}
	return base + "/lobby/" + url.PathEscape(p.UserID) + "/" + url.PathEscape(p.Room), nil
}

// LoadRelay parses args over the environment.
func LoadRelay(args []string, envFiles ...string) (*Relay, error) {
	if err := loadEnv(envFiles...); err != nil {
		return nil, err
	}

	noRTC, err := envBool(EnvDisableWebRTC, false)
	if err != nil {
		return nil, err
	}
	debug, err := envBool(EnvDebug, false)
	if err != nil {
		return nil, err
	}
	addr := os.Getenv(EnvListenAddr)
	if addr == "" {
		addr = ":8080"
	}

	r := &Relay{}
	var ice string

	flags := flag.NewFlagSet("relay", flag.ContinueOnError)
	flags.StringVar(&r.Addr, "listen", addr, "Address to listen on")
	flags.BoolVar(&r.DisableWebRTC, "no-webrtc", noRTC, "Refuse WebRTC and accept WebSocket only")
	flags.StringVar(&ice, "ice", os.Getenv(EnvICEServers), "Comma-separated STUN/TURN URLs")
	flags.DurationVar(&r.StatsInterval, "stats", 5*time.Second, "Traffic report interval, 0 disables")
	flags.BoolVar(&r.Debug, "debug", debug, "Enable debug logging")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	r.ICEServers = splitList(ice)
	return r, nil
}

// NormalizeRelayURL validates a relay address and returns it as a ws or wss
// base URL without trailing slash. A bare host defaults to wss, http and
// https map to ws and wss.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("missing relay URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay URL scheme %q", u.Scheme)
	}
	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/"), nil
}

// ---------------------------------------------------------------------------
// Environment helpers
// ---------------------------------------------------------------------------

// loadEnv loads .env files without overriding variables that are already
// set. Missing files are ignored.
func loadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
