// Relay: room server for callcore participants.
//
// Accepts participants on GET /lobby/{user}/{room} over WebRTC DataChannels
// (?transport=webrtc) or plain WebSocket, and forwards every packet to the
// other members of the room. Encrypted media is forwarded without being
// opened.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/callcore/internal/config"
	"github.com/1ureka/callcore/internal/relay"
	"github.com/1ureka/callcore/internal/transport"
	"github.com/1ureka/callcore/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Callcore relay v%s", version))
	pterm.Println()

	ice := cfg.ICEServers
	if len(ice) == 0 {
		ice = transport.DefaultSTUNServers
	}

	srv := relay.New(relay.Options{
		DisableWebRTC: cfg.DisableWebRTC,
		RTC:           transport.RTCConfig{ICEServers: ice},
	})
	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, srv.Stats(), cfg.StatsInterval)
	}

	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("relay shut down")
}
