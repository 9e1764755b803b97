package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fleetwatch/backend/internal/config"
	"github.com/fleetwatch/backend/internal/eventstore"
	"github.com/fleetwatch/backend/internal/fleet"
	"github.com/fleetwatch/backend/internal/frontend"
	"github.com/fleetwatch/backend/internal/gamification"
	"github.com/fleetwatch/backend/internal/hooks"
	"github.com/fleetwatch/backend/internal/mock"
	"github.com/fleetwatch/backend/internal/patterns"
	"github.com/fleetwatch/backend/internal/poller"
	"github.com/fleetwatch/backend/internal/session"
	"github.com/fleetwatch/backend/internal/shutdown"
	"github.com/fleetwatch/backend/internal/tmux"
	"github.com/fleetwatch/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Drive the fleet core with synthetic pane content instead of a real tmux server")
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/agent-racer/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.ApplyEnvOverrides(cfg)

	if *port > 0 {
		cfg.Server.Port = *port
	}

	if err := os.MkdirAll(cfg.Fleet.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory %s: %v", cfg.Fleet.DataDir, err)
	}

	registry, err := patterns.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to load pattern registry: %v", err)
	}

	retention := time.Duration(cfg.Fleet.EventsRetentionDays) * 24 * time.Hour
	store, err := eventstore.Open(filepath.Join(cfg.Fleet.DataDir, "events.db"), retention)
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}

	panes := session.NewPaneSet()
	broadcaster := ws.NewBroadcaster(cfg.Server.MaxConnections, cfg.Fleet.WSBackpressureHigh, cfg.Fleet.WSBackpressureLow)
	broadcaster.SetPrivacyFilter(cfg.Privacy.NewPrivacyFilter())

	engine := fleet.New(panes, registry, broadcaster, store)

	gamStore := gamification.NewStore(cfg.Fleet.DataDir)
	tracker, statsCh, err := gamification.NewStatsTracker(gamStore, 0)
	if err != nil {
		log.Fatalf("Failed to initialize stats tracker: %v", err)
	}
	engine.SetGamificationSink(statsCh)

	tracker.OnAchievement(func(a gamification.Achievement, rw *gamification.Reward) {
		payload := ws.AchievementUnlockedPayload{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Tier:        string(a.Tier),
		}
		if rw != nil {
			payload.Reward = &ws.AchievementRewardPayload{Type: string(rw.Type), ID: rw.ID, Name: rw.Name}
		}
		broadcaster.BroadcastAchievement(payload)
	})
	tracker.OnXPGain(func(amount int, reason string, total, tier int) {
		broadcaster.BroadcastXPGain(ws.XPGainPayload{Amount: amount, Reason: reason, Total: total, Tier: tier})
	})

	var adapter *tmux.Adapter
	if !*mockMode {
		adapter, err = tmux.New()
		if err != nil {
			log.Fatalf("Failed to locate tmux: %v", err)
		}
	}

	var ingest *hooks.Ingest
	if cfg.Monitor.SessionEndDir != "" {
		ingest = hooks.New(cfg.Monitor.SessionEndDir, engine.OnHookEvent)
	}

	frontendDir := ""
	if *devMode {
		exe, _ := os.Executable()
		frontendDir = filepath.Join(filepath.Dir(exe), "..", "..", "frontend")
		if _, err := os.Stat(frontendDir); os.IsNotExist(err) {
			cwd, _ := os.Getwd()
			frontendDir = filepath.Join(cwd, "..", "frontend")
		}
	}

	var embeddedHandler http.Handler
	if !*devMode {
		embeddedHandler = frontend.Handler()
		if embeddedHandler == nil {
			cwd, _ := os.Getwd()
			fallback := filepath.Join(cwd, "..", "frontend")
			if _, err := os.Stat(fallback); err == nil {
				log.Printf("No embedded frontend, falling back to: %s", fallback)
				embeddedHandler = http.FileServer(http.Dir(fallback))
			}
		}
	}

	var httpTmux ws.Multiplexer
	if adapter != nil {
		httpTmux = adapter
	}
	server := ws.NewServer(cfg, panes, httpTmux, ingest, broadcaster, frontendDir, *devMode, embeddedHandler, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	coord := shutdown.NewCoordinator(10)

	streamingCtx, stopStreaming := context.WithCancel(context.Background())
	coord.Register(50, "streaming-layer", func(context.Context) error {
		stopStreaming()
		broadcaster.Shutdown()
		return nil
	})

	heartbeat := ws.NewHeartbeat(broadcaster, cfg.Fleet.WSHeartbeatInterval)
	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	go heartbeat.Run(heartbeatCtx)
	coord.Register(55, "heartbeat", func(context.Context) error {
		stopHeartbeat()
		return nil
	})

	if *mockMode {
		log.Println("Starting in mock mode")
		mockCtx, stopMock := context.WithCancel(context.Background())
		gen := mock.NewGenerator(panes, engine, 3)
		go gen.Start(mockCtx)
		coord.Register(60, "pane-poller", func(context.Context) error {
			stopMock()
			return nil
		})
	} else {
		log.Println("Starting in real mode (tmux pane discovery)")
		pollerCtx, stopPoller := context.WithCancel(context.Background())
		p := poller.New(adapter, panes, cfg.Fleet.PollInterval)
		p.OnContentChange(engine.OnContent)
		p.OnRemoval(engine.OnPaneRemoved)
		p.OnSnapshot(engine.OnSnapshot)
		go p.Run(pollerCtx)
		coord.Register(60, "pane-poller", func(context.Context) error {
			stopPoller()
			return nil
		})

		if ingest != nil {
			hookStop := make(chan struct{})
			go ingest.Run(hookStop)
			coord.Register(65, "hook-watcher", func(context.Context) error {
				close(hookStop)
				return nil
			})
		}
	}

	trackerCtx, stopTracker := context.WithCancel(context.Background())
	go tracker.Run(trackerCtx)
	coord.Register(65, "stats-tracker", func(context.Context) error {
		stopTracker()
		return nil
	})

	retentionCtx, stopRetention := context.WithCancel(context.Background())
	go store.RunRetentionSweep(retentionCtx, 0)
	coord.Register(95, "event-retention-sweep", func(context.Context) error {
		stopRetention()
		return nil
	})

	coord.Register(100, "event-store-close", func(context.Context) error {
		return store.Close()
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		if err := coord.Shutdown(context.Background()); err != nil {
			log.Printf("shutdown error: %v", err)
			os.Exit(1)
		}
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
