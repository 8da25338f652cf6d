package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"ringside/internal/annotate"
	"ringside/internal/auth"
	"ringside/internal/capture"
	"ringside/internal/codec"
	"ringside/internal/config"
	"ringside/internal/database"
	"ringside/internal/detection"
	"ringside/internal/emitter"
	"ringside/internal/pipeline"
	"ringside/internal/services"
	"ringside/internal/ws"
)

func main() {
	var (
		configF   = flag.String("config", "", "Path to the YAML configuration file (default "+config.DefaultPath+" if present)")
		hostF     = flag.String("host", "", "Server host (overrides server.host)")
		httpPortF = flag.String("http-port", "", "HTTP port (overrides server.port)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[ringside] ", log.Ltime)

	path, required := config.DefaultPath, false
	if *configF != "" {
		path, required = *configF, true
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if *hostF != "" {
		cfg.Server.Host = *hostF
	}
	if *httpPortF != "" {
		port, err := strconv.Atoi(*httpPortF)
		if err != nil {
			logger.Fatalf("invalid http port %q: %v", *httpPortF, err)
		}
		cfg.Server.Port = port
	}
	cfg.Server.Debug = cfg.Server.Debug || *dbgF

	// Frame pipeline collaborators, shared by every session
	jpegCodec := codec.New(cfg.Encoder.Quality)

	annotator, err := annotate.New(cfg.AnnotateConfig())
	if err != nil {
		logger.Fatalf("failed to create annotator: %v", err)
	}

	client, err := detection.NewClient(cfg.DetectionConfig())
	if err != nil {
		logger.Fatalf("failed to create inference client: %v", err)
	}
	defer client.Close()

	opener, err := capture.NewOpener(cfg.CaptureConfig(), jpegCodec)
	if err != nil {
		logger.Fatalf("failed to create video source: %v", err)
	}
	logger.Printf("video source %s (%s)", cfg.Source.URL, capture.Classify(cfg.Source.URL))

	bus := pipeline.NewEventBus()
	defer bus.Close()

	stats := pipeline.NewStats()
	bus.Subscribe(stats)

	multiplexer := pipeline.NewMultiplexer(opener, client, annotator, jpegCodec,
		pipeline.WithEventBus(bus),
		pipeline.WithInferenceTimeout(cfg.Inference.Timeout),
	)

	// Match storage
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	authenticator, err := auth.NewAuthenticator(cfg.AuthConfig())
	if err != nil {
		logger.Fatalf("failed to configure auth: %v", err)
	}
	if authenticator.IsEnabled() {
		logger.Printf("authentication enabled for user %q", cfg.Auth.Username)
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	hub := ws.NewEventHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx, bus)
	}()

	if cfg.MQTT.Broker != "" {
		mqttEmitter := emitter.NewMQTTEmitter(cfg.EmitterConfig())
		if err := mqttEmitter.Connect(ctx); err != nil {
			// Paho keeps retrying in the background
			logger.Printf("MQTT broker %s not reachable yet: %v", cfg.MQTT.Broker, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer mqttEmitter.Disconnect()
			mqttEmitter.Run(ctx, bus)
		}()
	}

	svcs := services.Services{
		Frame:  services.NewFrameService(client, jpegCodec, cfg.Inference.Timeout),
		Match:  services.NewMatchService(db),
		Health: services.NewHealthService(db, client),
		System: services.NewSystemService(stats, multiplexer, hub),
		Auth:   services.NewAuthService(authenticator),
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	handleHTTPServer(ctx, cfg, svcs, authenticator, multiplexer, hub, &wg, errc, logger)

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Close every open stream before the listener stops
	multiplexer.Shutdown()
	cancel()

	wg.Wait()
	logger.Println("exited")
}
