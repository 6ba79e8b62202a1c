package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Harshitk-cp/voicebridge/internal/audio"
	"github.com/Harshitk-cp/voicebridge/internal/bridge"
	"github.com/Harshitk-cp/voicebridge/internal/config"
	"github.com/Harshitk-cp/voicebridge/internal/handler"
	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/Harshitk-cp/voicebridge/internal/protocol"
	"github.com/Harshitk-cp/voicebridge/internal/signaling"
	"github.com/Harshitk-cp/voicebridge/internal/webrtc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewPrometheusCollector()

	var vad *audio.VAD
	if cfg.Audio.VADEnabled {
		vad, err = audio.NewVAD(cfg.Audio.VADAggressiveness)
		if err != nil {
			logger.Fatal("invalid VAD configuration", zap.Error(err))
		}
	}

	tools := bridge.NewToolRegistry()
	streamFactory := bridge.NewWebSocketStreamFactory(bridge.StreamConfig{
		URL:    cfg.Model.URL,
		APIKey: cfg.Model.APIKey,
	}, logger)

	deps := webrtc.SessionDeps{
		StreamFactory: streamFactory,
		Tools:         tools,
		VAD:           vad,
		MessengerOpts: messengerOptions(cfg),
		ProcessorOpts: audio.ProcessorOptions{
			ChunkSamples:  cfg.Audio.ChunkSamples,
			FlushInterval: cfg.Audio.FlushInterval,
			GainReduction: cfg.Audio.GainReduction,
		},
		Logger:       logger,
		Collector:    collector,
		SystemPrompt: cfg.Model.SystemPrompt,
		VoiceID:      cfg.Model.VoiceID,
	}

	api, err := webrtc.NewAPI()
	if err != nil {
		logger.Fatal("failed to build webrtc api", zap.Error(err))
	}
	peerConfig := webrtc.PeerConfiguration(iceServers(cfg))

	registry := webrtc.NewRegistry(logger)

	relayOpts := signaling.Options{
		URL:        cfg.Signaling.URL,
		ClientID:   cfg.Signaling.ClientID,
		Role:       cfg.Signaling.Role,
		AuthSecret: cfg.Signaling.AuthSecret,
		TokenTTL:   cfg.Signaling.TokenTTL,
	}

	var handleSignal signaling.MessageHandler
	var startRole func() error

	switch cfg.Signaling.Role {
	case config.RoleMaster:
		var master *webrtc.Master
		handleSignal = func(msg model.SignalMessage) { master.HandleSignal(msg) }
		relay := signaling.NewClient(relayOpts, handleSignal, logger)
		master = webrtc.NewMaster(ctx, api, peerConfig, relay, registry, deps)
		startRole = relay.Connect
		defer relay.Close()
	case config.RoleViewer:
		var viewer *webrtc.Viewer
		handleSignal = func(msg model.SignalMessage) { viewer.HandleSignal(msg) }
		relay := signaling.NewClient(relayOpts, handleSignal, logger)
		viewer = webrtc.NewViewer(ctx, api, peerConfig, relay, registry, deps, cfg.Signaling.RemoteID)
		startRole = func() error {
			if err := relay.Connect(); err != nil {
				return err
			}
			return viewer.Start()
		}
		defer relay.Close()
	}

	httpServer := handler.NewHTTPServer(cfg, registry, collector, logger)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if err := startRole(); err != nil {
		logger.Fatal("failed to start signaling role", zap.Error(err))
	}

	logger.Info("voicebridge running",
		zap.String("role", cfg.Signaling.Role),
		zap.String("client_id", cfg.Signaling.ClientID))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	registry.CloseAll()
	if err := httpServer.Stop(); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Logging.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

func messengerOptions(cfg *config.Config) protocol.Options {
	return protocol.Options{
		AckTimeout:    cfg.Channel.AckTimeout,
		MaxRetries:    cfg.Channel.MaxRetries,
		RetryBase:     cfg.Channel.RetryBase,
		SweepInterval: cfg.Channel.SweepInterval,
		SendLimit:     rate.Limit(cfg.Channel.SendLimit),
		SendBurst:     cfg.Channel.SendBurst,
	}
}

func iceServers(cfg *config.Config) []webrtc.ICEServerConfig {
	servers := make([]webrtc.ICEServerConfig, 0, len(cfg.WebRTC.ICEServers))
	for _, server := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServerConfig{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return servers
}
