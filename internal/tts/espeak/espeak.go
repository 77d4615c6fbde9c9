// Package espeak is an in-process espeak-ng voice for tts.InProcess.
//
// espeak-ng keeps global state, so a process holds at most one Voice.
package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

extern int goSynthCallback(short *wav, int numsamples, espeak_EVENT *events);

static int
aegis_espeak_init(const char *voice)
{
	int rate = espeak_Initialize(AUDIO_OUTPUT_SYNCHRONOUS, 0, NULL, 0);
	if (rate <= 0)
	{ return rate; }

	espeak_SetSynthCallback(goSynthCallback);

	if (voice && voice[0])
	{
		espeak_VOICE props;
		memset(&props, 0, sizeof(props));
		props.languages = voice;
		if (espeak_SetVoiceByProperties(&props) != EE_OK)
		{ return -2; }
	}
	return rate;
}

static int
aegis_espeak_synth(const char *text, int rate, int pitch)
{
	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }
	if (pitch > 0)
	{ espeak_SetParameter(espeakPITCH, pitch, 0); }

	espeak_ERROR err = espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0,
		espeakCHARS_AUTO, NULL, NULL);
	if (err != EE_OK)
	{ return (int)err; }

	return espeak_Synchronize() == EE_OK ? 0 : -1;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"aegis/pkg/pcm"
)

var (
	mu     sync.Mutex
	active *Voice
)

// Options tune the voice. Zero values keep espeak defaults.
type Options struct {
	Language string // e.g. "pt-br"
	Rate     int    // words per minute
	Pitch    int    // 0-100
}

// Voice renders text with espeak-ng.
type Voice struct {
	opt        Options
	sampleRate int
	buf        []int16
	ctx        context.Context // set while Generate runs
}

// New initializes espeak-ng.
func New(opt Options) (*Voice, error) {
	mu.Lock()
	defer mu.Unlock()
	if active != nil {
		return nil, errors.New("espeak: already initialized")
	}

	lang := C.CString(opt.Language)
	defer C.free(unsafe.Pointer(lang))

	rate := int(C.aegis_espeak_init(lang))
	switch {
	case rate == -2:
		C.espeak_Terminate()
		return nil, fmt.Errorf("espeak: unknown voice %q", opt.Language)
	case rate <= 0:
		return nil, fmt.Errorf("espeak: initialize failed: %d", rate)
	}

	v := &Voice{opt: opt, sampleRate: rate}
	active = v
	return v, nil
}

// Generate implements tts.Model. Cancelling ctx aborts the synthesis at
// the next callback.
func (v *Voice) Generate(ctx context.Context, text string) ([]float32, int, error) {
	mu.Lock()
	defer mu.Unlock()
	if active != v {
		return nil, 0, errors.New("espeak: voice closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	v.ctx = ctx
	defer func() { v.ctx = nil }()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	v.buf = v.buf[:0]
	if rc := C.aegis_espeak_synth(ctext, C.int(v.opt.Rate), C.int(v.opt.Pitch)); rc != 0 {
		return nil, 0, fmt.Errorf("espeak: synth failed: %d", int(rc))
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return pcm.Int16ToFloat32(v.buf), v.sampleRate, nil
}

// Close releases espeak-ng.
func (v *Voice) Close() error {
	mu.Lock()
	defer mu.Unlock()
	if active != v {
		return nil
	}
	C.espeak_Terminate()
	active = nil
	return nil
}
