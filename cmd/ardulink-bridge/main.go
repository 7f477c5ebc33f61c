package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/config"
	"github.com/shaunagostinho/ardulink-go/internal/link"
	"github.com/shaunagostinho/ardulink-go/internal/linkmanager"
	"github.com/shaunagostinho/ardulink-go/internal/links"
	"github.com/shaunagostinho/ardulink-go/internal/mqtt"
	"github.com/shaunagostinho/ardulink-go/internal/observability"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/recorder"
	"github.com/shaunagostinho/ardulink-go/internal/server"
	"github.com/shaunagostinho/ardulink-go/web"
)

const appName = "ardulink-bridge"

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to config file")
	demo := flag.Bool("demo", false, "Run against a simulated device")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	uri := flag.String("uri", "", "Override link address (e.g. ardulink://serial?port=/dev/ttyACM0)")
	flag.Parse()

	cfg, log := loadConfig(*configPath)
	observability.RegisterMetrics()
	log.Info().Msg("starting")

	if *demo {
		cfg.Link.URI = linkmanager.Scheme + "://virtual"
	}
	if *uri != "" {
		cfg.Link.URI = *uri
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	cache := links.NewCache(linkmanager.Builtin())
	defer cache.Close()

	rec := recorder.New(recorder.Config{
		Enabled:    cfg.Recorder.Enabled,
		Path:       cfg.Recorder.Path,
		IntervalMs: cfg.Recorder.Interval,
	})
	defer rec.Close()

	// The server starts immediately; the device is attached once connected.
	srv := server.New(cfg, nil, web.FS)
	go attach(ctx, log, cfg, cache, srv, rec)

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
	}
}

// loadConfig reads the config with a bootstrap logger in place, then
// switches to the configured level.
func loadConfig(path string) (*config.Config, zerolog.Logger) {
	observability.InitLogger(appName, "info")
	cfg := config.LoadConfig(path)
	return cfg, observability.InitLogger(appName, cfg.Log.Level)
}

// attach connects the configured link and wires it to the server, the
// recorder and, when enabled, the MQTT broker. It returns when ctx is done.
func attach(ctx context.Context, log zerolog.Logger, cfg *config.Config, cache *links.Cache, srv *server.Server, rec *recorder.Recorder) {
	lc := cfg.Snapshot()
	h := connectWithRetry(ctx, log, cache, lc.URI, 10)
	if h == nil {
		return
	}
	defer h.Close()

	l := h.Link()
	dev := newDevice(h)
	if err := l.AddConnectionListener(srv); err != nil {
		log.Error().Err(err).Msg("link closed early")
		return
	}

	mode := link.ReadyMessageOnly
	if lc.WaitMode == config.WaitAny {
		mode = link.AnyMessageReceived
	}
	if h.WaitForReady(ctx, cfg.WaitTimeout(), mode) {
		srv.ConnectionReady()
	} else if ctx.Err() == nil {
		log.Warn().Dur("timeout", cfg.WaitTimeout()).Msg("device did not signal ready, continuing")
	}

	dev.addSink(srv)
	dev.addSink(rec.Listener(l.ID()))
	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			log.Error().Err(err).Msg("mqtt disabled")
		} else {
			defer client.Close()
			bridge := mqtt.NewBridge(client, dev, cfg.MQTT.TopicPrefix)
			dev.addSink(bridge)
			if err := bridge.Start(); err != nil {
				log.Error().Err(err).Msg("mqtt subscribe failed")
			}
			defer bridge.Stop()
		}
	}

	for _, name := range lc.ListenPins {
		p, err := pin.Parse(name)
		if err != nil {
			log.Warn().Err(err).Msg("skipping listen pin")
			continue
		}
		if err := dev.StartListening(p); err != nil {
			log.Error().Err(err).Str("pin", p.String()).Msg("start listening failed")
		}
	}

	srv.SetDevice(dev)
	log.Info().Str("link", l.ID()).Str("key", h.Key()).Msg("device attached")
	<-ctx.Done()
}

// connectWithRetry resolves uri with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, logs the attempt count
// against maxAttempts then continues at max interval indefinitely.
// Returns nil when ctx is cancelled first or when uri can never resolve.
func connectWithRetry(ctx context.Context, log zerolog.Logger, cache *links.Cache, uri string, maxAttempts int) *links.Handle {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		h, err := cache.Resolve(ctx, uri)
		if err == nil {
			log.Info().Str("uri", uri).Int("attempt", attempt+1).Msg("connected")
			return h
		}
		if errors.Is(err, linkmanager.ErrAddress) {
			log.Error().Err(err).Str("uri", uri).Msg("invalid link address, not retrying")
			return nil
		}

		attempt++
		ev := log.Warn().Err(err).Str("uri", uri).Dur("retry_in", delay)
		if attempt <= maxAttempts {
			ev = ev.Str("attempt", fmt.Sprintf("%d/%d", attempt, maxAttempts))
		} else {
			ev = ev.Int("attempt", attempt)
		}
		ev.Msg("connect failed")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
