package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"

	"github.com/baileyboy0304/music-companion/internal/config"
	"github.com/baileyboy0304/music-companion/internal/display"
	"github.com/baileyboy0304/music-companion/internal/fetch"
	"github.com/baileyboy0304/music-companion/internal/lrclib"
	"github.com/baileyboy0304/music-companion/internal/lyricstore"
	"github.com/baileyboy0304/music-companion/internal/lyricsync"
	"github.com/baileyboy0304/music-companion/internal/media"
	"github.com/baileyboy0304/music-companion/internal/mpris"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "music-companion",
	})

	bus, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connecting to session bus: %w", err)
	}
	defer bus.Close()

	observer, err := mpris.NewObserver(bus, logger)
	if err != nil {
		return err
	}
	observer.Start()
	defer observer.Stop()

	var store fetch.Store
	if !cfg.Cache.Disabled {
		path := cfg.Cache.Path
		if path == "" {
			path = lyricstore.DefaultPath()
		}
		s, err := lyricstore.Open(path, cfg.CacheTTL())
		if err != nil {
			logger.Warn("lyrics cache unavailable, running without it", "path", path, "err", err)
		} else {
			defer s.Close()
			store = s
		}
	}

	var clientOpts []lrclib.Option
	if cfg.Lrclib.URL != "" {
		clientOpts = append(clientOpts, lrclib.WithBaseURL(cfg.Lrclib.URL))
	}
	if cfg.Lrclib.RequestsPerSec > 0 {
		clientOpts = append(clientOpts, lrclib.WithRateLimit(cfg.Lrclib.RequestsPerSec))
	}
	backend := lrclib.New(clientOpts...)

	orch := fetch.New(cfg.FetchSettings(), backend, store, observer, logger)
	defer orch.Close()

	devices := cfg.Devices
	if len(devices) == 0 {
		players, err := mpris.ListPlayers(bus)
		if err != nil {
			return err
		}
		if len(players) == 0 {
			return fmt.Errorf("no devices configured and no mpris players on the bus")
		}
		for _, player := range players {
			devices = append(devices, config.DeviceConfig{Name: player, Player: player})
		}
		logger.Info("no devices configured, following discovered players", "players", len(players))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, dev := range devices {
		// A single device gets the in-place terminal window. With more
		// than one, interleaved rewrites would clobber each other, so
		// each device logs its lines instead.
		var sink lyricsync.Sink
		if len(devices) == 1 {
			sink = display.NewTerminal(os.Stdout)
		} else {
			sink = display.NewLog(logger.With("device", dev.Name))
		}

		if err := orch.Register(fetch.Device{ID: dev.Name, SourceID: dev.Player, Sink: sink}); err != nil {
			return err
		}

		events, unsubscribe, err := observer.Subscribe(dev.Player)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", dev.Player, err)
		}
		defer unsubscribe()

		go followPlayer(ctx, orch, logger, dev.Name, events)
	}

	logger.Info("running", "devices", len(devices))
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func followPlayer(ctx context.Context, orch *fetch.Orchestrator, logger *log.Logger, deviceID string, events <-chan media.StateEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := orch.HandlePlayerEvent(ctx, deviceID, ev); err != nil {
				logger.Error("handling player event failed", "device", deviceID, "err", err)
			}
		}
	}
}
