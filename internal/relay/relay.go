// Package relay bridges the voice engine to the hub: engine events are
// published, SAY requests from other shards are spoken.
package relay

import (
	"context"
	"strings"
	"time"

	log "log/slog"

	"github.com/google/uuid"

	"aegis/internal/voice"
	"aegis/pkg/protocol"
)

// Speaker is the engine side the relay drives.
type Speaker interface {
	Speak(text string, priority voice.Priority) (uuid.UUID, error)
}

type Config struct {
	URL    string
	Shard  string        // our name on the hub
	Target string        // recipient of published events, default ALL
	Reconn time.Duration // redial interval
}

type Relay struct {
	ptcl    *protocol.Protocol
	target  string
	speaker Speaker
}

// Dial connects to the hub.
func Dial(ctx context.Context, cfg Config, speaker Speaker) (*Relay, error) {
	if cfg.Shard == "" {
		cfg.Shard = "AEGIS"
	}
	if cfg.Target == "" {
		cfg.Target = protocol.Broadcast
	}

	r := &Relay{target: cfg.Target, speaker: speaker}
	ptcl, err := protocol.NewProtocol(ctx, protocol.PtclConfig{
		Shard:   cfg.Shard,
		Url:     cfg.URL,
		Reconn:  cfg.Reconn,
		Timeout: 10 * time.Second,
		EmitOut: r.handle,
	})
	if err != nil {
		return nil, err
	}
	r.ptcl = ptcl
	return r, nil
}

// Run serves inbound requests until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	return r.ptcl.Run(ctx)
}

// Publish announces an engine event as EVENT:<KIND>[:<text>].
func (r *Relay) Publish(ev voice.CommandEvent) error {
	m := protocol.Message{
		To:   r.target,
		Verb: "EVENT",
		Noun: strings.ToUpper(ev.Kind.String()),
	}
	if ev.Kind == voice.Command {
		m.Args = []string{protocol.EncodeText(ev.Text)}
	}
	return r.ptcl.Transmit(m)
}

func (r *Relay) handle(msg *protocol.Message) {
	reply := msg.Reply()

	var priority voice.Priority
	switch msg.Verb {
	case "SAY":
		priority = voice.Normal
	case "SAYNOW":
		priority = voice.Immediate
	default:
		reply.Error("UNKNOWN")
		r.send(reply)
		return
	}

	if len(msg.Args) != 1 {
		reply.Error("ARGS")
		r.send(reply)
		return
	}
	text, err := protocol.DecodeText(msg.Args[0])
	if err != nil {
		reply.Error("ENCODING")
		r.send(reply)
		return
	}

	id, err := r.speaker.Speak(text, priority)
	if err != nil {
		log.Warn("Relay speak rejected", "from", msg.From, "err", err)
		reply.Error("STATE")
		r.send(reply)
		return
	}
	log.Info("Relay speak", "from", msg.From, "id", id)
	reply.Ok(msg.Verb, id.String())
	r.send(reply)
}

func (r *Relay) send(m protocol.Message) {
	if err := r.ptcl.Transmit(m); err != nil {
		log.Warn("Relay reply failed", "to", m.To, "err", err)
	}
}
