// Package voice is the wake-word voice engine: microphone capture, the
// wake/sleep state machine, command capture and the serialized speech
// output queue, composed behind Engine.
//
// Workers and the channels between them:
//
//	capture ──frames──▶ detector ──tee──▶ command session
//	                       │
//	                       └──events──▶ host ──Speak──▶ speech queue ──▶ synthesis/playback
//
// The detector goroutine is the only owner of VoiceState. The synthesis
// goroutine is the only writer to the output device.
package voice
