// Command irisd runs the wearable's edge orchestrator: camera and mic in,
// gated perception through the cloud gateway or the on-device sidecar,
// synthesized speech out, with the operator dashboard and the head-unit
// uplink served over HTTP.
//
// Configuration is flags first, IRIS_* environment variables as fallbacks.
// Credentials are environment-only.
package main

import (
	"context"
	"flag"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/irisware/go-iris/internal/config"
	"github.com/irisware/go-iris/internal/httpc"
	"github.com/irisware/go-iris/internal/log"
	"github.com/irisware/go-iris/pkg/assistant"
	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/capability/local"
	"github.com/irisware/go-iris/pkg/capability/remote"
	"github.com/irisware/go-iris/pkg/connectivity"
	"github.com/irisware/go-iris/pkg/dispatch"
	"github.com/irisware/go-iris/pkg/headcam"
	"github.com/irisware/go-iris/pkg/sense"
	"github.com/irisware/go-iris/pkg/speaker"
	"github.com/irisware/go-iris/pkg/speech"
	"github.com/irisware/go-iris/pkg/turn"
	"github.com/irisware/go-iris/pkg/uplink"
	"github.com/irisware/go-iris/pkg/web"
	"github.com/irisware/go-iris/pkg/webcam"
)

func main() {
	cfg := parseFlags()
	log.Init(cfg.logLevel)
	logger := log.L()

	// Cloud gateway provider; auth comes from the environment.
	remoteOpts := []remote.Option{
		remote.WithBaseURL(cfg.gatewayURL),
		remote.WithUserID(cfg.userID),
		remote.WithHTTPClient(httpc.Client),
		remote.WithLogger(logger),
	}
	if cfg.gatewayClientID != "" {
		remoteOpts = append(remoteOpts,
			remote.WithClientCredentials(cfg.gatewayClientID, cfg.gatewayClientSecret, cfg.gatewayTokenURL))
	} else if cfg.gatewayAPIKey != "" {
		remoteOpts = append(remoteOpts, remote.WithAPIKey(cfg.gatewayAPIKey))
	}
	gateway, err := remote.NewClient(remoteOpts...)
	if err != nil {
		stdlog.Fatalf("gateway client: %v", err)
	}
	defer gateway.Close()

	// On-device fallback: the model sidecar, or canned answers when it
	// is disabled.
	var onDevice capability.Provider
	if cfg.sidecarURL == "off" {
		onDevice = local.NewCanned()
	} else {
		sidecar, err := local.NewSidecar(
			remote.WithBaseURL(cfg.sidecarURL),
			remote.WithLogger(logger),
		)
		if err != nil {
			stdlog.Fatalf("sidecar client: %v", err)
		}
		onDevice = sidecar
	}
	defer onDevice.Close()

	monitor, err := connectivity.NewMonitor(
		connectivity.WithProbe(gateway.Health),
		connectivity.WithLogger(logger),
	)
	if err != nil {
		stdlog.Fatalf("connectivity monitor: %v", err)
	}

	dispatcher, err := dispatch.New(
		dispatch.WithProviders(gateway, onDevice),
		dispatch.WithStates(monitor),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		stdlog.Fatalf("dispatcher: %v", err)
	}

	chain := buildSpeech(cfg, logger)
	if chain != nil {
		defer chain.Close()
	}

	sink, err := speaker.NewSpeaker(
		speaker.WithAddress(cfg.speakHost, cfg.speakPort),
		speaker.WithLogger(logger),
	)
	if err != nil {
		stdlog.Fatalf("speaker: %v", err)
	}
	defer sink.Close()

	dashboard, err := web.NewServer(
		web.WithAddr(cfg.webAddr),
		web.WithLogger(logger),
	)
	if err != nil {
		stdlog.Fatalf("dashboard: %v", err)
	}

	hub, err := uplink.NewHub(uplink.WithLogger(logger))
	if err != nil {
		stdlog.Fatalf("uplink hub: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frames, err := buildFrames(ctx, cfg, logger)
	if err != nil {
		stdlog.Fatalf("camera: %v", err)
	}
	defer frames.Close()

	asst, err := assistant.New(
		assistant.WithFrameSource(frames),
		assistant.WithDispatcher(dispatcher),
		assistant.WithSink(sink),
		assistant.WithMonitor(monitor),
		assistant.WithUplink(hub),
		assistant.WithSpeech(chain),
		assistant.WithWeb(dashboard),
		assistant.WithUserID(cfg.userID),
		assistant.WithFrameInterval(cfg.frameInterval),
		assistant.WithTurnOptions(turn.WithRepeatAfter(cfg.repeatAfter)),
		assistant.WithLogger(logger),
	)
	if err != nil {
		stdlog.Fatalf("assistant: %v", err)
	}

	go func() {
		if err := dashboard.Start(); err != nil {
			logger.Error("dashboard server stopped", "error", err)
			stop()
		}
	}()
	defer dashboard.Shutdown()

	uplinkApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(uplinkApp)
	hub.RegisterAPIRoutes(uplinkApp.Group("/api"))
	go func() {
		if err := uplinkApp.Listen(cfg.uplinkAddr); err != nil {
			logger.Error("uplink server stopped", "error", err)
			stop()
		}
	}()
	defer uplinkApp.Shutdown()

	logger.Info("irisd starting",
		"gateway", cfg.gatewayURL,
		"camera", cfg.camera,
		"web", cfg.webAddr,
		"uplink", cfg.uplinkAddr)

	if err := asst.Run(ctx); err != nil && ctx.Err() == nil {
		stdlog.Fatalf("runtime error: %v", err)
	}
}

// buildFrames selects the camera. The head unit streams over WebRTC;
// dev rigs use a local webcam.
func buildFrames(ctx context.Context, cfg daemonConfig, logger *slog.Logger) (sense.FrameSource, error) {
	switch cfg.camera {
	case "webcam":
		return webcam.NewCamera(
			webcam.WithDevice(cfg.device),
			webcam.WithLogger(logger),
		)
	default:
		recv, err := headcam.NewReceiver(
			headcam.WithSignallingURL(cfg.signallingURL),
			headcam.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		if err := recv.Connect(ctx); err != nil {
			recv.Close()
			return nil, err
		}
		return recv, nil
	}
}

// buildSpeech assembles the synthesis chain: gateway stream socket, then
// gateway HTTP, then Google TTS. Nil means no dedicated chain and the
// dispatcher's speech capability carries narration alone.
func buildSpeech(cfg daemonConfig, logger *slog.Logger) speech.Provider {
	var providers []speech.Provider
	if cfg.ttsEndpoint != "" {
		opts := []speech.Option{
			speech.WithEndpoint(cfg.ttsEndpoint),
			speech.WithAPIKey(cfg.ttsAPIKey),
			speech.WithVoice(cfg.ttsVoice),
			speech.WithHTTPClient(httpc.Client),
			speech.WithLogger(logger),
		}
		if ws, err := speech.NewGatewayWS(opts...); err == nil {
			providers = append(providers, ws)
		} else {
			logger.Warn("gateway stream TTS unavailable", "error", err)
		}
		if gw, err := speech.NewGateway(opts...); err == nil {
			providers = append(providers, gw)
		} else {
			logger.Warn("gateway TTS unavailable", "error", err)
		}
	}
	if cfg.ttsGoogle {
		if g, err := speech.NewGoogle(speech.WithLogger(logger)); err == nil {
			providers = append(providers, g)
		} else {
			logger.Warn("google TTS unavailable", "error", err)
		}
	}
	if len(providers) == 0 {
		return nil
	}
	chain, err := speech.NewChainWithLogger(logger, providers...)
	if err != nil {
		logger.Warn("speech chain unavailable", "error", err)
		return nil
	}
	return chain
}

type daemonConfig struct {
	logLevel string

	gatewayURL          string
	gatewayAPIKey       string
	gatewayClientID     string
	gatewayClientSecret string
	gatewayTokenURL     string
	userID              string

	sidecarURL string

	camera        string
	device        string
	signallingURL string
	frameInterval time.Duration

	ttsEndpoint string
	ttsAPIKey   string
	ttsVoice    string
	ttsGoogle   bool

	speakHost string
	speakPort int

	webAddr     string
	uplinkAddr  string
	repeatAfter time.Duration
}

func parseFlags() daemonConfig {
	var cfg daemonConfig

	flag.StringVar(&cfg.logLevel, "log-level", config.GetEnv("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.StringVar(&cfg.gatewayURL, "gateway", config.GetEnv("IRIS_GATEWAY_URL", ""), "inference gateway base URL")
	flag.StringVar(&cfg.userID, "user", config.GetEnv("IRIS_USER_ID", "iris"), "user identity for dialogue turns")
	flag.StringVar(&cfg.sidecarURL, "sidecar", config.GetEnv("IRIS_SIDECAR_URL", local.DefaultSidecarURL), "on-device model sidecar URL, or 'off' for canned fallback")
	flag.StringVar(&cfg.camera, "camera", config.GetEnv("IRIS_CAMERA", "headcam"), "frame source: headcam, webcam")
	flag.StringVar(&cfg.device, "camera-device", config.GetEnv("IRIS_CAMERA_DEVICE", webcam.DefaultDevice), "webcam device index or path")
	flag.StringVar(&cfg.signallingURL, "signalling", config.GetEnv("IRIS_SIGNALLING_URL", "ws://iris-head.local:8443"), "head-unit webrtcsink signalling URL")
	flag.DurationVar(&cfg.frameInterval, "frame-interval", config.GetEnvDuration("IRIS_FRAME_INTERVAL", assistant.DefaultFrameInterval), "capture loop interval")
	flag.StringVar(&cfg.ttsEndpoint, "tts-endpoint", config.GetEnv("IRIS_TTS_ENDPOINT", ""), "speech gateway endpoint; empty narrates through the dispatcher")
	flag.StringVar(&cfg.ttsVoice, "tts-voice", config.GetEnv("IRIS_TTS_VOICE", ""), "synthesis voice name")
	flag.BoolVar(&cfg.ttsGoogle, "tts-google", config.GetEnvBool("IRIS_TTS_GOOGLE", false), "add Google Cloud TTS to the synthesis chain")
	flag.StringVar(&cfg.speakHost, "speak-host", config.GetEnv("IRIS_SPEAK_HOST", "127.0.0.1"), "audio daemon host")
	flag.IntVar(&cfg.speakPort, "speak-port", config.GetEnvInt("IRIS_SPEAK_PORT", speaker.DefaultPort), "audio daemon RTP port")
	flag.StringVar(&cfg.webAddr, "web", config.GetEnv("IRIS_WEB_ADDR", web.DefaultAddr), "dashboard listen address")
	flag.StringVar(&cfg.uplinkAddr, "uplink", config.GetEnv("IRIS_UPLINK_ADDR", ":8092"), "head-unit uplink listen address")
	flag.DurationVar(&cfg.repeatAfter, "repeat-after", config.GetEnvDuration("IRIS_REPEAT_AFTER", turn.DefaultRepeatAfter), "suppress repeating a scene description for this long")
	flag.Parse()

	// Credentials are environment-only so they never land in process
	// listings or shell history.
	cfg.gatewayAPIKey = os.Getenv("IRIS_GATEWAY_API_KEY")
	cfg.gatewayClientID = os.Getenv("IRIS_GATEWAY_CLIENT_ID")
	cfg.gatewayClientSecret = os.Getenv("IRIS_GATEWAY_CLIENT_SECRET")
	cfg.gatewayTokenURL = config.GetEnv("IRIS_GATEWAY_TOKEN_URL", cfg.gatewayURL+"/oauth/token")
	cfg.ttsAPIKey = os.Getenv("IRIS_TTS_KEY")

	if cfg.gatewayURL == "" {
		stdlog.Fatal("the inference gateway URL is required (-gateway or IRIS_GATEWAY_URL)")
	}
	return cfg
}
