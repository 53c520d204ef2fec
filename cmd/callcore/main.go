// Callcore participant CLI.
//
// Joins a room on a relay, sends an IVF file as camera video and an Opus Ogg
// file as microphone audio, and optionally records what the other
// participants say. Media is end-to-end encrypted unless -e2ee=false.
//
// Missing identity settings (-user, -room, -relay) are asked for
// interactively.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/callcore/internal/config"
	"github.com/1ureka/callcore/internal/connection"
	"github.com/1ureka/callcore/internal/encode"
	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/record"
	"github.com/1ureka/callcore/internal/transport"
	"github.com/1ureka/callcore/internal/util"
)

var version = "dev"

// reconnectDelay is how long the CLI waits before reconnecting after a loss.
const reconnectDelay = 2 * time.Second

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadParticipant(os.Args[1:])
	if err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Callcore v%s", version))
	pterm.Println()

	askMissing(cfg)
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("left the call")
}

// ---------------------------------------------------------------------------
// Call
// ---------------------------------------------------------------------------

func run(ctx context.Context, cfg *config.Participant) error {
	lobby, err := cfg.LobbyURL()
	if err != nil {
		return err
	}

	var rec *record.Recorder
	if cfg.RecordDir != "" {
		if rec, err = record.New(cfg.RecordDir); err != nil {
			return err
		}
		defer rec.Close()
	}

	ice := cfg.ICEServers
	if len(ice) == 0 {
		ice = transport.DefaultSTUNServers
	}

	lost := make(chan error, 1)
	conn, err := connection.New(connection.Options{
		UserID:       cfg.UserID,
		TransportURL: lobby,
		EnableE2EE:   cfg.EnableE2EE,

		OnConnected: func() {
			util.LogSuccess("joined %s as %s", cfg.Room, cfg.UserID)
		},
		OnConnectionLost: func(err error) {
			select {
			case lost <- err:
			default:
			}
		},
		OnPeerAdded: func(peer string) {
			util.LogInfo("%s is in the call", peer)
		},
		OnPeerRemoved: func(peer string) {
			util.LogInfo("%s left the call", peer)
		},
		OnPeerFirstFrame: func(peer string, mt protocol.MediaType) {
			util.LogInfo("receiving %s from %s", strings.ToLower(mt.String()), peer)
		},
		OnKeyEstablished: func(peer string) {
			util.LogDebug("media of %s is now readable", peer)
		},
		OnInboundMedia: func(peer, _ string, mp *protocol.MediaPacket) {
			if rec == nil {
				return
			}
			if err := rec.Write(peer, mp); err != nil {
				util.LogWarning("%v", err)
			}
		},

		PrimaryTimeout:    cfg.PrimaryTimeout,
		HeartbeatInterval: connection.DefaultHeartbeatInterval,
		PeerTimeout:       connection.DefaultPeerTimeout,
		ICEServers:        ice,
		DisableWebRTC:     cfg.DisableWebRTC,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	encoders := startEncoders(cfg, conn)
	defer func() {
		for _, e := range encoders {
			e.Stop()
		}
	}()

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, conn.StatsCounters(), cfg.StatsInterval)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			util.LogWarning("connection lost: %v", err)
			if err := reconnect(ctx, conn); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}

// reconnect retries Connect until it succeeds or ctx ends.
func reconnect(ctx context.Context, conn *connection.Connection) error {
	for {
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		util.LogInfo("reconnecting...")
		err := conn.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, connection.ErrClosed) {
			return err
		}
		util.LogWarning("reconnect failed: %v", err)
	}
}

// stopper is what main needs from an encoder on exit.
type stopper interface{ Stop() }

// startEncoders starts a camera and a microphone for the configured files.
// They keep running across reconnects; packets sent while disconnected are
// dropped.
func startEncoders(cfg *config.Participant, conn *connection.Connection) []stopper {
	var started []stopper

	if cfg.VideoFile != "" {
		cam := encode.NewCamera(encode.NewIVFSource(cfg.Loop, cfg.VideoFile), conn)
		if err := cam.Start(); err != nil {
			util.LogWarning("camera: %v", err)
		} else {
			started = append(started, cam)
		}
	}
	if cfg.AudioFile != "" {
		mic := encode.NewMicrophone(encode.NewOggSource(cfg.Loop, cfg.AudioFile), conn)
		if err := mic.Start(); err != nil {
			util.LogWarning("microphone: %v", err)
		} else {
			started = append(started, mic)
		}
	}
	if len(started) == 0 {
		util.LogInfo("no media files given, joining as a listener")
	}
	return started
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askMissing prompts for the identity settings that neither flags nor the
// environment provided.
func askMissing(cfg *config.Participant) {
	if cfg.RelayURL == "" {
		cfg.RelayURL = askRelayURL()
	}
	if cfg.UserID == "" {
		cfg.UserID = askText("Your participant id (e.g. amy@example.com)")
	}
	if cfg.Room == "" {
		cfg.Room = askText("Room to join")
	}
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("a value is required")
		pterm.Println()
	}
}

// askRelayURL prompts for a valid relay URL until one is entered.
func askRelayURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example or ws://localhost:8080)").
			Show()

		u, err := config.NormalizeRelayURL(raw)
		if err == nil {
			pterm.Println()
			return u
		}

		pterm.Println()
		util.LogWarning("invalid input: %v", err)
	}
}
