package espeak

/*
#include <espeak-ng/speak_lib.h>
*/
import "C"

import "unsafe"

// goSynthCallback runs on the synthesizing goroutine, inside Generate,
// with mu held. Returning 1 makes espeak-ng abort the synthesis.
//
//export goSynthCallback
func goSynthCallback(wav *C.short, numsamples C.int, events *C.espeak_EVENT) C.int {
	if active == nil {
		return 0
	}
	if active.ctx != nil && active.ctx.Err() != nil {
		return 1
	}
	if wav == nil || numsamples <= 0 {
		return 0
	}
	samples := unsafe.Slice((*int16)(unsafe.Pointer(wav)), int(numsamples))
	active.buf = append(active.buf, samples...)
	return 0
}
