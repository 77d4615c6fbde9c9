package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"aegis/internal/audio"
	"aegis/internal/config"
	"aegis/internal/ipc"
	"aegis/internal/notify"
	"aegis/internal/observe"
	"aegis/internal/proxy"
	"aegis/internal/relay"
	"aegis/internal/respond"
	"aegis/internal/textfx"
	"aegis/internal/tts"
	"aegis/internal/tts/espeak"
	"aegis/internal/voice"
	"aegis/pkg/audioconv"
	"aegis/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	cfgFile := cli.StringP("config", "c", "aegis.yaml", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level, overrides the config file")
	socket := cli.StringP("socket", "s", "", "Control socket path, overrides the config file")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy for the LLM client, overrides the config file")
	textOnly := cli.BoolP("text-only", "t", false, "Run without a microphone")
	listDevices := cli.Bool("list-devices", false, "Print audio devices and exit")
	cli.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *socket != "" {
		cfg.Control.Socket = *socket
	}
	if *proxyAddr != "" {
		cfg.LLM.Proxy = *proxyAddr
	}
	if *textOnly {
		cfg.Audio.Disabled = true
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[cfg.Log.Level],
		TimeFormat: time.TimeOnly,
	})))

	if err := audio.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer audio.Terminate()

	if *listDevices {
		printDevices()
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load env file", "path", *envFile, "err", err)
	}

	if err := run(cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		audio.Terminate()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, shutdownMetrics, err := observe.InitProvider()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())

	synth, closeSynth, err := newSynthesizer(cfg)
	if err != nil {
		return err
	}
	defer closeSynth()
	log.Debug("Loaded synthesizer", "engine", cfg.TTS.Engine)

	deps := voice.Deps{
		Synthesizer: synth,
		Player:      newPlayer(cfg),
		Metrics:     metrics,
	}

	if !cfg.Audio.Disabled {
		closeSTT, err := loadRecognition(cfg, &deps)
		if err != nil {
			return err
		}
		defer closeSTT()
	}

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}

	ecfg := cfg.Engine()
	ecfg.Transform = textfx.Collapse
	if cfg.Speech.Pauses {
		ecfg.Transform = textfx.Chain(textfx.Collapse, textfx.Pauses)
	}
	eng, err := voice.NewEngine(ecfg, deps)
	if err != nil {
		return err
	}

	h := newHost(eng, gen, cfg.Speech)
	h.stop = stop
	if cue, err := notify.WakeCue(cfg.Cues.Wake); err != nil {
		log.Warn("Failed to load wake cue", "path", cfg.Cues.Wake, "err", err)
	} else {
		h.cue = &cue
	}

	srv, err := ipc.Listen(cfg.Control.Socket, h.control)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		var devErr *voice.DeviceError
		if !errors.As(err, &devErr) {
			return err
		}
		log.Warn("Voice input unavailable, running text-only", "err", err)
	}
	log.Info("Boot up - successful", "socket", cfg.Control.Socket, "text_only", eng.TextOnly())

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Relay.URL != "" {
		rl, err := relay.Dial(ctx, relay.Config{
			URL:    cfg.Relay.URL,
			Shard:  cfg.Relay.Shard,
			Target: cfg.Relay.Target,
		}, eng)
		if err != nil {
			log.Warn("Failed to reach hub, relay disabled", "url", cfg.Relay.URL, "err", err)
		} else {
			h.publish = func(ev voice.CommandEvent) {
				if err := rl.Publish(ev); err != nil {
					log.Debug("Failed to publish event", "err", err)
				}
			}
			g.Go(func() error { return rl.Run(ctx) })
		}
	}
	g.Go(func() error { return srv.Serve(ctx) })
	g.Go(func() error { return h.run(ctx) })
	g.Go(func() error { return h.respond(ctx) })

	if cfg.Metrics.Addr != "" {
		ms := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux()}
		g.Go(func() error {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return ms.Shutdown(sctx)
		})
	}

	<-ctx.Done()
	log.Info("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Join+time.Second)
	defer cancel()
	stopErr := eng.Stop(sctx)
	if stopErr != nil {
		log.Warn("Engine stopped uncleanly", "err", stopErr)
	}
	return g.Wait()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func newSynthesizer(cfg *config.Config) (voice.Synthesizer, func(), error) {
	switch cfg.TTS.Engine {
	case "espeak":
		v, err := espeak.New(espeak.Options{
			Language: cfg.TTS.Espeak.Voice,
			Rate:     cfg.TTS.Espeak.Rate,
			Pitch:    cfg.TTS.Espeak.Pitch,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("espeak: %w", err)
		}
		return tts.NewInProcess(v), func() { v.Close() }, nil
	default:
		p, err := tts.NewPiper(tts.PiperConfig{
			Binary:          cfg.TTS.Piper.Binary,
			Model:           cfg.TTS.Piper.Model,
			NoiseScale:      cfg.TTS.Piper.NoiseScale,
			LengthScale:     cfg.TTS.Piper.LengthScale,
			SentenceSilence: cfg.TTS.Piper.SentenceSilence,
			Speaker:         cfg.TTS.Piper.Speaker,
			TempDir:         cfg.TTS.TempDir,
			Timeout:         cfg.Timeouts.Synthesis,
			Decode:          audioconv.DecodeFile,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
}

func newPlayer(cfg *config.Config) voice.Player {
	var p audio.Player
	if cfg.Audio.OutputDevice != "" {
		p = &audio.DevicePlayer{Device: cfg.Audio.OutputDevice, Rate: cfg.Audio.OutputRate}
	} else {
		p = audio.NewSpeakerPlayer(cfg.Audio.OutputRate)
	}
	if !cfg.Duck.Enabled {
		return p
	}
	return &audio.DuckingPlayer{
		Player: p,
		Ducker: audio.NewDucker(cfg.Duck.SelfNames, cfg.Duck.MinVolume),
		Factor: cfg.Duck.Factor,
		Fade:   cfg.Duck.Fade,
	}
}

// loadRecognition loads both whisper models and fills in the input side of
// deps. A missing wake model leaves the engine text-only.
func loadRecognition(cfg *config.Config, deps *voice.Deps) (func(), error) {
	opt := stt.Options{Language: cfg.STT.Language, Threads: int(cfg.STT.Threads)}

	cmdModel, err := stt.NewTranscriber(cfg.STT.CommandModel, opt)
	if err != nil {
		return nil, fmt.Errorf("command model: %w", err)
	}
	log.Debug("Loaded command model", "path", cfg.STT.CommandModel)

	wakeModel := cmdModel
	if cfg.STT.WakeModel != "" && cfg.STT.WakeModel != cfg.STT.CommandModel {
		wakeModel, err = stt.NewTranscriber(cfg.STT.WakeModel, opt)
		if err != nil {
			log.Warn("Failed to load wake model", "path", cfg.STT.WakeModel, "err", err)
			wakeModel = nil
		} else {
			log.Debug("Loaded wake model", "path", cfg.STT.WakeModel)
		}
	}

	deps.Microphone = &audio.Microphone{Device: cfg.Audio.InputDevice}
	deps.Transcriber = commandTranscriber{t: cmdModel}
	deps.NewRecognizer = recognizerFactory(wakeModel, stt.StreamConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Threshold:   cfg.Command.SpeechThreshold,
		MaxDuration: 3 * time.Second,
	})

	return func() {
		if wakeModel != nil && wakeModel != cmdModel {
			wakeModel.Close()
		}
		cmdModel.Close()
	}, nil
}

func newGenerator(cfg *config.Config) (respond.Generator, error) {
	key := os.Getenv(cfg.LLM.APIKeyEnv())
	if key == "" {
		log.Warn("API key not set, replies will fail", "env", cfg.LLM.APIKeyEnv())
	}

	rcfg := respond.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       key,
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
		Timeout:      cfg.LLM.Timeout,
	}
	if rcfg.BaseURL == "" && cfg.LLM.Provider == "deepseek" {
		rcfg.BaseURL = respond.DeepSeekBaseURL
	}
	if cfg.LLM.Proxy != "" {
		client, err := proxy.NewSocksClient(cfg.LLM.Proxy, cfg.LLM.Timeout)
		if err != nil {
			return nil, fmt.Errorf("socks proxy %q: %w", cfg.LLM.Proxy, err)
		}
		rcfg.HTTPClient = client
		log.Debug("Loaded proxy", "proxy", cfg.LLM.Proxy)
	}

	g := respond.NewOpenAI(rcfg)
	if key != "" {
		go func() {
			if err := g.Ping(context.Background()); err != nil {
				log.Warn("LLM endpoint unreachable", "err", err)
			}
		}()
	}
	return g, nil
}

func printDevices() {
	devs, err := audio.Devices()
	if err != nil {
		log.Error("Failed to list devices", "err", err)
		return
	}
	for _, d := range devs {
		mark := " "
		if d.DefaultInput || d.DefaultOutput {
			mark = "*"
		}
		fmt.Printf("%s %-40s in=%d out=%d rate=%.0f\n", mark, d.Name, d.Inputs, d.Outputs, d.DefaultRate)
	}
}
