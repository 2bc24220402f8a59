package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"driftline/netcode"
	"driftline/netcode/internal/telemetry"
)

type runOptions struct {
	bind           string
	transport      string
	peers          []string
	localSlot      int
	numPlayers     int
	inputBytes     int
	inputDelay     int
	maxPrediction  int
	desyncInterval int
	fps            int
	frames         int
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join a demo match as one peer",
		Long: `Join a demo match as one peer.

Every peer must register the same player slots in the same order. Slot
assignment is positional: this peer occupies --local-slot, remote peers
fill the remaining slots in --peer order.

Examples:
  netcoded run --bind :7000 --local-slot 0 --peer 127.0.0.1:7001
  netcoded run --bind :7001 --local-slot 1 --peer 127.0.0.1:7000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts)
		},
	}

	cmd.Flags().StringVar(&opts.bind, "bind", ":7000", "UDP bind address (or local peer name for ws)")
	cmd.Flags().StringVar(&opts.transport, "transport", "udp", "Transport: udp or ws")
	cmd.Flags().StringArrayVar(&opts.peers, "peer", nil, "Remote peer address, repeatable, in slot order")
	cmd.Flags().IntVar(&opts.localSlot, "local-slot", 0, "Player slot occupied by this peer")
	cmd.Flags().IntVar(&opts.numPlayers, "players", 2, "Total number of players")
	cmd.Flags().IntVar(&opts.inputBytes, "input-bytes", 8, "Input payload size in bytes")
	cmd.Flags().IntVar(&opts.inputDelay, "input-delay", 0, "Local input delay in frames")
	cmd.Flags().IntVar(&opts.maxPrediction, "max-prediction", 8, "Prediction window depth (0 = lockstep)")
	cmd.Flags().IntVar(&opts.desyncInterval, "desync-interval", 60, "Confirmed frames between checksum exchanges (0 = off)")
	cmd.Flags().IntVar(&opts.fps, "fps", 60, "Simulation rate")
	cmd.Flags().IntVar(&opts.frames, "frames", 0, "Stop after this many frames (0 = run until interrupted)")

	return cmd
}

func runMatch(opts runOptions) error {
	if len(opts.peers) != opts.numPlayers-1 {
		return fmt.Errorf("need %d --peer addresses for %d players, got %d", opts.numPlayers-1, opts.numPlayers, len(opts.peers))
	}
	if opts.localSlot < 0 || opts.localSlot >= opts.numPlayers {
		return fmt.Errorf("--local-slot %d out of range for %d players", opts.localSlot, opts.numPlayers)
	}

	logger := telemetry.WrapLogger(log.New(os.Stdout, "[netcoded] ", log.LstdFlags))
	matchID := uuid.NewString()

	adminCfg, err := loadAdminConfig()
	if err != nil {
		return err
	}
	admin := newAdminServer(matchID)
	metrics := telemetry.NewPrometheusMetrics(telemetry.PrometheusConfig{
		Namespace:   adminCfg.MetricsNamespace,
		ConstLabels: prometheus.Labels{"match_id": matchID},
		Registry:    admin.registry,
	})

	var socket netcode.Socket

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch opts.transport {
	case "udp":
		udp, err := netcode.NewUDPSocket(opts.bind, logger)
		if err != nil {
			return err
		}
		defer udp.Close()
		socket = udp
		go admin.serve(ctx, adminCfg.Addr, nil, logger)
	case "ws":
		ws := netcode.NewWebSocketSocket(opts.bind, logger)
		defer ws.Close()
		socket = ws
		go admin.serve(ctx, adminCfg.Addr, ws.Handler(), logger)
	default:
		return fmt.Errorf("unknown transport %q", opts.transport)
	}

	cfg := netcode.Config{
		NumPlayers:     opts.numPlayers,
		InputBytes:     opts.inputBytes,
		InputDelay:     opts.inputDelay,
		MaxPrediction:  opts.maxPrediction,
		DesyncInterval: opts.desyncInterval,
		FPS:            opts.fps,
		Logger:         logger,
		Metrics:        metrics,
	}

	game := newDemoGame(opts.numPlayers)
	session, err := netcode.NewSession(cfg, game.callbacks(), socket)
	if err != nil {
		return err
	}

	var localHandle netcode.PlayerHandle
	remoteHandles := make([]netcode.PlayerHandle, 0, len(opts.peers))
	peerIdx := 0
	for slot := 0; slot < opts.numPlayers; slot++ {
		var player netcode.PlayerType
		if slot == opts.localSlot {
			player = netcode.LocalPlayer()
		} else {
			player = netcode.RemotePlayer(opts.peers[peerIdx])
			peerIdx++
		}
		handle, err := session.AddPlayer(player)
		if err != nil {
			return err
		}
		if slot == opts.localSlot {
			localHandle = handle
		} else {
			remoteHandles = append(remoteHandles, handle)
		}
	}

	if err := session.Start(); err != nil {
		return err
	}
	logger.Printf("match %s: local slot %d, synchronizing with %d peer(s)", matchID, opts.localSlot, len(opts.peers))

	ticker := time.NewTicker(time.Second / time.Duration(opts.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Printf("match %s: interrupted at frame %v", matchID, session.CurrentFrame())
			return nil
		case <-ticker.C:
		}

		session.PollRemotePeers()
		for _, ev := range session.Events() {
			if fatal := logSessionEvent(logger, ev); fatal != nil {
				return fatal
			}
		}
		if session.State() != netcode.SessionRunning {
			continue
		}

		frame := session.CurrentFrame()
		if err := session.AddLocalInput(localHandle, frame, demoInput(opts.localSlot, frame, opts.inputBytes)); err != nil {
			if errors.Is(err, netcode.ErrPredictionWindowExceeded) {
				// Stalled on the slowest peer; keep polling until it catches up.
				continue
			}
			return err
		}

		inputs, err := session.SynchronizeInputs()
		if err != nil {
			if errors.Is(err, netcode.ErrMissingInput) {
				continue
			}
			return err
		}
		game.step(inputs)

		newFrame, err := session.AdvanceFrame(0)
		if err != nil {
			return err
		}

		if int32(newFrame)%30 == 0 {
			admin.update(snapshotStats(session, matchID, remoteHandles))
		}
		if opts.frames > 0 && int32(newFrame) >= int32(opts.frames) {
			logger.Printf("match %s: finished at frame %v (state mix %#x)", matchID, newFrame, game.Mix)
			return nil
		}
	}
}

func snapshotStats(session *netcode.Session, matchID string, remoteHandles []netcode.PlayerHandle) matchStats {
	stats := matchStats{
		MatchID:        matchID,
		State:          session.State().String(),
		CurrentFrame:   int32(session.CurrentFrame()),
		ConfirmedFrame: int32(session.ConfirmedFrame()),
		FramesAhead:    session.FramesAhead(),
	}
	for _, handle := range remoteHandles {
		ns, err := session.NetworkStats(handle)
		if err != nil {
			continue
		}
		stats.Peers = append(stats.Peers, peerStats{
			Player:             int(handle),
			PingMillis:         ns.Ping.Milliseconds(),
			SendQueueLen:       ns.SendQueueLen,
			LocalFramesBehind:  ns.LocalFramesBehind,
			RemoteFramesBehind: ns.RemoteFramesBehind,
		})
	}
	return stats
}

// logSessionEvent reports a session event; a non-nil return aborts the match.
func logSessionEvent(logger telemetry.Logger, ev netcode.Event) error {
	switch ev.Type {
	case netcode.EventSynchronizing:
		logger.Printf("sync with %s: %d/%d", ev.Addr, ev.SyncCount, ev.SyncTotal)
	case netcode.EventSynchronized:
		logger.Printf("synchronized with %s", ev.Addr)
	case netcode.EventRunning:
		logger.Printf("all peers synchronized, match running")
	case netcode.EventDisconnected:
		logger.Printf("player %v at %s disconnected", ev.Player, ev.Addr)
	case netcode.EventNetworkInterrupted:
		logger.Printf("connection to %s interrupted, disconnect in %dms", ev.Addr, ev.DisconnectTimeoutMillis)
	case netcode.EventNetworkResumed:
		logger.Printf("connection to %s resumed", ev.Addr)
	case netcode.EventWaitRecommendation:
		logger.Printf("running %d frames ahead, consider skipping", ev.SkipFrames)
	case netcode.EventDesyncDetected:
		return fmt.Errorf("desync at frame %v against %s: local %#x, remote %#x",
			ev.Frame, ev.Addr, ev.LocalChecksum, ev.RemoteChecksum)
	}
	return nil
}
