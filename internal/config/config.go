// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"aegis/internal/voice"
)

type Config struct {
	Audio    AudioConfig   `yaml:"audio"`
	Wake     PhraseConfig  `yaml:"wake"`
	Sleep    PhraseConfig  `yaml:"sleep"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Command  CommandConfig `yaml:"command"`
	TTS      TTSConfig     `yaml:"tts"`
	STT      STTConfig     `yaml:"stt"`
	LLM      LLMConfig     `yaml:"llm"`
	Control  ControlConfig `yaml:"control"`
	Relay    RelayConfig   `yaml:"relay"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Duck     DuckConfig    `yaml:"duck"`
	Cues     CuesConfig    `yaml:"cues"`
	Speech   SpeechConfig  `yaml:"speech"`
	Log      LogConfig     `yaml:"log"`
}

type AudioConfig struct {
	SampleRate   int    `yaml:"sample_rate"`
	BlockSize    int    `yaml:"block_size"`
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`
	OutputRate   int    `yaml:"output_rate"`
	FrameQueue   int    `yaml:"frame_queue"`
	// Disabled runs without a microphone.
	Disabled bool `yaml:"disabled"`
}

type PhraseConfig struct {
	Phrases  []string `yaml:"phrases"`
	Aliases  []string `yaml:"aliases"`
	Phonetic bool     `yaml:"phonetic"`
}

func (p PhraseConfig) Set() voice.PhraseSet {
	return voice.PhraseSet{Phrases: p.Phrases, Aliases: p.Aliases, Phonetic: p.Phonetic}
}

type TimeoutConfig struct {
	Inactivity time.Duration `yaml:"inactivity"`
	Command    time.Duration `yaml:"command"`
	Synthesis  time.Duration `yaml:"synthesis"`
	Join       time.Duration `yaml:"join"`
	Tick       time.Duration `yaml:"tick"`
}

type CommandConfig struct {
	MaxPhrase       time.Duration `yaml:"max_phrase"`
	Silence         time.Duration `yaml:"silence"`
	SpeechThreshold float64       `yaml:"speech_threshold"`
	Calibrate       time.Duration `yaml:"calibrate"`
}

type TTSConfig struct {
	Engine  string       `yaml:"engine"` // piper or espeak
	TempDir string       `yaml:"temp_dir"`
	Piper   PiperConfig  `yaml:"piper"`
	Espeak  EspeakConfig `yaml:"espeak"`
}

type PiperConfig struct {
	Binary          string  `yaml:"binary"`
	Model           string  `yaml:"model"`
	NoiseScale      float64 `yaml:"noise_scale"`
	LengthScale     float64 `yaml:"length_scale"`
	SentenceSilence float64 `yaml:"sentence_silence"`
	Speaker         int     `yaml:"speaker"`
}

type EspeakConfig struct {
	Voice string `yaml:"voice"`
	Rate  int    `yaml:"rate"`
	Pitch int    `yaml:"pitch"`
}

type STTConfig struct {
	WakeModel    string `yaml:"wake_model"`
	CommandModel string `yaml:"command_model"`
	Language     string `yaml:"language"`
	Threads      uint   `yaml:"threads"`
}

type LLMConfig struct {
	Provider     string        `yaml:"provider"` // openai or deepseek
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int64         `yaml:"max_tokens"`
	Proxy        string        `yaml:"proxy"`
	Timeout      time.Duration `yaml:"timeout"`
}

// APIKeyEnv names the environment variable holding the provider key.
func (l LLMConfig) APIKeyEnv() string {
	if l.Provider == "deepseek" {
		return "DEEPSEEK_API_KEY"
	}
	return "OPENAI_API_KEY"
}

type ControlConfig struct {
	Socket string `yaml:"socket"`
}

type RelayConfig struct {
	URL    string `yaml:"url"`
	Shard  string `yaml:"shard"`
	Target string `yaml:"target"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type DuckConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Factor    float64       `yaml:"factor"`
	MinVolume int           `yaml:"min_volume"`
	Fade      time.Duration `yaml:"fade"`
	SelfNames []string      `yaml:"self_names"`
}

type CuesConfig struct {
	Wake string `yaml:"wake"`
}

type SpeechConfig struct {
	Pauses        bool   `yaml:"pauses"`
	WakeReply     string `yaml:"wake_reply"`
	SleepReply    string `yaml:"sleep_reply"`
	FailureNotice string `yaml:"failure_notice"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{SampleRate: 16000, BlockSize: 8000, OutputRate: 22050, FrameQueue: 32},
		Wake:  PhraseConfig{Phrases: []string{"aegis"}},
		Sleep: PhraseConfig{Phrases: []string{"descansar"}},
		Timeouts: TimeoutConfig{
			Inactivity: 30 * time.Second,
			Command:    8 * time.Second,
			Synthesis:  30 * time.Second,
			Join:       5 * time.Second,
			Tick:       500 * time.Millisecond,
		},
		Command: CommandConfig{
			MaxPhrase:       15 * time.Second,
			Silence:         800 * time.Millisecond,
			SpeechThreshold: 0.015,
		},
		TTS: TTSConfig{
			Engine: "piper",
			Piper: PiperConfig{
				Binary:          "piper",
				Model:           "voices/pt_BR-faber-medium.onnx",
				NoiseScale:      0.667,
				LengthScale:     1.0,
				SentenceSilence: 0.2,
			},
			Espeak: EspeakConfig{Voice: "pt-br"},
		},
		STT: STTConfig{
			WakeModel:    "models/ggml-tiny.bin",
			CommandModel: "models/ggml-small.bin",
			Language:     "pt",
		},
		LLM: LLMConfig{
			Provider:  "deepseek",
			Model:     "deepseek-chat",
			MaxTokens: 1000,
			Timeout:   60 * time.Second,
		},
		Control: ControlConfig{Socket: "/tmp/aegis.sock"},
		Relay:   RelayConfig{Shard: "AEGIS"},
		Duck:    DuckConfig{Factor: 0.3, MinVolume: 10, Fade: 300 * time.Millisecond, SelfNames: []string{"aegis"}},
		Speech: SpeechConfig{
			Pauses:        true,
			WakeReply:     "Estou ouvindo",
			SleepReply:    "Entrando em modo de espera",
			FailureNotice: "Desculpe, não consegui concluir esse pedido.",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates it.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive"))
	}
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive"))
	}
	if cfg.Audio.FrameQueue <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_queue must be positive"))
	}
	if len(cfg.Wake.Phrases) == 0 {
		errs = append(errs, fmt.Errorf("wake.phrases must not be empty"))
	}
	if len(cfg.Sleep.Phrases) == 0 {
		errs = append(errs, fmt.Errorf("sleep.phrases must not be empty"))
	}
	if cfg.Timeouts.Inactivity <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.inactivity must be positive"))
	}
	if cfg.Timeouts.Tick > time.Second {
		errs = append(errs, fmt.Errorf("timeouts.tick must be at most 1s, got %s", cfg.Timeouts.Tick))
	}
	if cfg.Command.SpeechThreshold <= 0 || cfg.Command.SpeechThreshold >= 1 {
		errs = append(errs, fmt.Errorf("command.speech_threshold must be in (0,1)"))
	}
	switch cfg.TTS.Engine {
	case "piper":
		if cfg.TTS.Piper.Model == "" {
			errs = append(errs, fmt.Errorf("tts.piper.model is required"))
		}
	case "espeak":
	default:
		errs = append(errs, fmt.Errorf("tts.engine %q is invalid; valid values: piper, espeak", cfg.TTS.Engine))
	}
	switch cfg.LLM.Provider {
	case "openai", "deepseek":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is invalid; valid values: openai, deepseek", cfg.LLM.Provider))
	}
	if cfg.Duck.Enabled && (cfg.Duck.Factor < 0 || cfg.Duck.Factor > 1) {
		errs = append(errs, fmt.Errorf("duck.factor must be in [0,1]"))
	}
	if !validLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	return errors.Join(errs...)
}

// Engine maps the file onto the voice engine configuration.
func (c *Config) Engine() voice.Config {
	calibrate := 0
	if c.Command.Calibrate > 0 && c.Audio.BlockSize > 0 {
		blockDur := time.Duration(c.Audio.BlockSize) * time.Second / time.Duration(c.Audio.SampleRate)
		calibrate = max(1, int(c.Command.Calibrate/blockDur))
	}
	return voice.Config{
		SampleRate:       c.Audio.SampleRate,
		BlockSize:        c.Audio.BlockSize,
		FrameQueueSize:   c.Audio.FrameQueue,
		Wake:             c.Wake.Set(),
		Sleep:            c.Sleep.Set(),
		WakeSleepTimeout: c.Timeouts.Inactivity,
		TickInterval:     c.Timeouts.Tick,
		Command: voice.CommandConfig{
			Timeout:         c.Timeouts.Command,
			MaxPhrase:       c.Command.MaxPhrase,
			Silence:         c.Command.Silence,
			SpeechThreshold: c.Command.SpeechThreshold,
		},
		CalibrateBlocks:  calibrate,
		SynthesisTimeout: c.Timeouts.Synthesis,
		JoinTimeout:      c.Timeouts.Join,
	}
}
