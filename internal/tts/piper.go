package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "log/slog"
)

// Decoder reads an audio file into mono samples.
type Decoder func(path string) ([]float32, int, error)

// PiperConfig configures the Piper command line synthesizer.
type PiperConfig struct {
	Binary          string
	Model           string // .onnx voice; Model+".json" must exist next to it
	NoiseScale      float64
	LengthScale     float64
	SentenceSilence float64
	Speaker         int // multi-speaker voices only, 0 = default
	TempDir         string
	Timeout         time.Duration
	Decode          Decoder
}

// Piper runs one piper process per utterance: text on stdin, a WAV file out.
type Piper struct {
	cfg    PiperConfig
	binary string
}

// VerifyPiper checks that the binary, the voice model and its config exist.
func VerifyPiper(binary, model string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", &SynthesisError{Reason: ReasonMissingAsset, Err: fmt.Errorf("piper binary %q: %w", binary, err)}
	}
	for _, f := range []string{model, model + ".json"} {
		if _, err := os.Stat(f); err != nil {
			return "", &SynthesisError{Reason: ReasonMissingAsset, Err: err}
		}
	}
	return path, nil
}

// NewPiper verifies the installation and returns a ready synthesizer.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	if cfg.Decode == nil {
		return nil, errors.New("tts: piper needs a decoder")
	}
	if cfg.NoiseScale == 0 {
		cfg.NoiseScale = 0.667
	}
	if cfg.LengthScale == 0 {
		cfg.LengthScale = 1.0
	}
	if cfg.SentenceSilence == 0 {
		cfg.SentenceSilence = 0.2
	}

	bin, err := VerifyPiper(cfg.Binary, cfg.Model)
	if err != nil {
		return nil, err
	}
	log.Info("Piper ready", "binary", bin, "model", cfg.Model)
	return &Piper{cfg: cfg, binary: bin}, nil
}

func (p *Piper) args(out string) []string {
	args := []string{
		"--model", p.cfg.Model,
		"--output_file", out,
		"--noise_scale", strconv.FormatFloat(p.cfg.NoiseScale, 'f', -1, 64),
		"--length_scale", strconv.FormatFloat(p.cfg.LengthScale, 'f', -1, 64),
		"--sentence_silence", strconv.FormatFloat(p.cfg.SentenceSilence, 'f', -1, 64),
	}
	if p.cfg.Speaker > 0 {
		args = append(args, "--speaker", strconv.Itoa(p.cfg.Speaker))
	}
	return args
}

// Synthesize renders text. The output file is removed on every path.
func (p *Piper) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, &SynthesisError{Reason: ReasonEmpty}
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	tmp, err := os.CreateTemp(p.cfg.TempDir, "aegis-piper-*.wav")
	if err != nil {
		return nil, 0, &SynthesisError{Reason: ReasonProcess, Err: fmt.Errorf("create temp file: %w", err)}
	}
	out := tmp.Name()
	tmp.Close()
	defer os.Remove(out)

	cmd := exec.CommandContext(ctx, p.binary, p.args(out)...)
	cmd.Stdin = strings.NewReader(text)
	cmd.WaitDelay = 500 * time.Millisecond
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, 0, &SynthesisError{Reason: ctxReason(ctx.Err()), Err: ctx.Err()}
		}
		log.Error("Piper failed", "err", err, "stderr", strings.TrimSpace(stderr.String()))
		return nil, 0, &SynthesisError{Reason: ReasonProcess, Err: err}
	}

	if st, err := os.Stat(out); err != nil || st.Size() == 0 {
		return nil, 0, &SynthesisError{Reason: ReasonEmpty, Err: errors.New("piper produced no audio")}
	}

	samples, rate, err := p.cfg.Decode(out)
	if err != nil {
		return nil, 0, &SynthesisError{Reason: ReasonDecode, Err: err}
	}
	log.Debug("Piper synthesized", "chars", len(text), "samples", len(samples), "rate", rate, "took", time.Since(start))
	return samples, rate, nil
}
