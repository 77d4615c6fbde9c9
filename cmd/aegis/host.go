package main

import (
	"context"
	"fmt"
	"time"

	log "log/slog"

	"github.com/google/uuid"

	"aegis/internal/config"
	"aegis/internal/ipc"
	"aegis/internal/respond"
	"aegis/internal/voice"
)

// engine is the part of voice.Engine the daemon drives.
type engine interface {
	Speak(text string, priority voice.Priority) (uuid.UUID, error)
	PlayCue(clip voice.Clip, priority voice.Priority) (uuid.UUID, error)
	Trigger() error
	RetryInput(ctx context.Context) error
	Events() <-chan voice.CommandEvent
	Phase() voice.Phase
	State() voice.VoiceState
	TextOnly() bool
	Speaking() bool
	Pending() int
}

// host reacts to engine events: cues and acknowledgements on wake and
// sleep, generated replies for commands.
type host struct {
	eng     engine
	gen     respond.Generator
	speech  config.SpeechConfig
	cue     *voice.Clip
	publish func(voice.CommandEvent)
	stop    context.CancelFunc
	now     func() time.Time

	commands chan string
}

func newHost(eng engine, gen respond.Generator, speech config.SpeechConfig) *host {
	return &host{
		eng:      eng,
		gen:      gen,
		speech:   speech,
		now:      time.Now,
		commands: make(chan string, 4),
	}
}

// run consumes engine events until ctx is done or the stream closes.
func (h *host) run(ctx context.Context) error {
	events := h.eng.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.dispatch(ev)
		}
	}
}

func (h *host) dispatch(ev voice.CommandEvent) {
	log.Info("Voice event", "kind", ev.Kind, "text", ev.Text)
	if h.publish != nil {
		h.publish(ev)
	}

	switch ev.Kind {
	case voice.WakeDetected:
		if h.cue != nil {
			if _, err := h.eng.PlayCue(*h.cue, voice.Immediate); err != nil {
				log.Warn("Failed to queue wake cue", "err", err)
			}
		}
		h.say(h.speech.WakeReply, voice.Immediate)
	case voice.SleepDetected:
		h.say(h.speech.SleepReply, voice.Immediate)
	case voice.Timeout:
		// Only the inactivity timeout puts the engine to sleep; a failed
		// capture returns to Listening.
		if h.eng.State() == voice.Idle {
			h.say(h.speech.SleepReply, voice.Normal)
		}
	case voice.Command:
		select {
		case h.commands <- ev.Text:
		default:
			log.Warn("Dropping command, responder busy", "text", ev.Text)
		}
	}
}

// respond answers queued commands one at a time.
func (h *host) respond(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case query := <-h.commands:
			start := h.now()
			reply := respond.Reply(ctx, h.gen, query, h.background(), h.speech.FailureNotice)
			if ctx.Err() != nil {
				return nil
			}
			log.Debug("Reply ready", "took", h.now().Sub(start))
			h.say(reply, voice.Normal)
		}
	}
}

func (h *host) background() string {
	now := h.now()
	return fmt.Sprintf("Current local time: %s (%s).", now.Format("Monday, 02 January 2006 15:04"), now.Location())
}

func (h *host) say(text string, priority voice.Priority) {
	if text == "" {
		return
	}
	if _, err := h.eng.Speak(text, priority); err != nil {
		log.Warn("Failed to queue speech", "priority", priority, "err", err)
	}
}

// control maps control socket requests onto the engine.
func (h *host) control(ctx context.Context, msg ipc.ControlMessage) ipc.Reply {
	switch msg.Cmd {
	case ipc.CmdSpeak, ipc.CmdSayNow:
		priority := voice.Normal
		if msg.Cmd == ipc.CmdSayNow {
			priority = voice.Immediate
		}
		id, err := h.eng.Speak(msg.Text, priority)
		if err != nil {
			return ipc.Fail(err)
		}
		if id == uuid.Nil {
			return ipc.Reply{OK: true}
		}
		return ipc.Reply{OK: true, ID: id.String()}
	case ipc.CmdTrigger:
		if err := h.eng.Trigger(); err != nil {
			return ipc.Fail(err)
		}
		return ipc.Reply{OK: true}
	case ipc.CmdRetry:
		if err := h.eng.RetryInput(ctx); err != nil {
			return ipc.Fail(err)
		}
		return ipc.Reply{OK: true}
	case ipc.CmdStatus:
		return ipc.Reply{OK: true, Status: &ipc.Status{
			Phase:    h.eng.Phase().String(),
			State:    h.eng.State().String(),
			TextOnly: h.eng.TextOnly(),
			Speaking: h.eng.Speaking(),
			Pending:  h.eng.Pending(),
		}}
	case ipc.CmdStop:
		if h.stop != nil {
			h.stop()
		}
		return ipc.Reply{OK: true}
	default:
		return ipc.Fail(fmt.Errorf("unknown command %q", msg.Cmd))
	}
}
