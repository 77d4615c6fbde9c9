// Package protocol speaks the hub's line protocol over a websocket:
//
//	TO:VERB:NOUN[:ARG...]:FROM
//
// Fields are tokens without whitespace or colons. Free text travels as a
// base64url argument, see EncodeText.
package protocol

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	log "log/slog"
)

// Broadcast addresses every shard.
const Broadcast = "ALL"

type PtclConfig struct {
	Shard   string
	Url     string
	Reconn  time.Duration
	Timeout time.Duration
	EmitOut func(*Message)
}

// Protocol owns one hub connection for a shard.
type Protocol struct {
	ws      *WebSocket
	shard   string
	emitOut func(*Message)
}

func NewProtocol(ctx context.Context, cfg PtclConfig) (*Protocol, error) {
	if !isToken(cfg.Shard) {
		return nil, fmt.Errorf("invalid shard name %q", cfg.Shard)
	}
	ws, err := NewWebSocket(ctx, cfg.Url, cfg.Reconn, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Protocol{shard: cfg.Shard, ws: ws, emitOut: cfg.EmitOut}, nil
}

func (ptcl *Protocol) EmitOut(f func(*Message)) {
	ptcl.emitOut = f
}

// Transmit sends m with FROM set to this shard.
func (ptcl *Protocol) Transmit(m Message) error {
	m.From = ptcl.shard
	msg := m.String()
	if err := ptcl.ws.Write([]byte(msg)); err != nil {
		log.Error("Failed to transmit", "msg", msg, "err", err)
		return err
	}
	return nil
}

// Run reads until ctx is done, reconnecting when the hub drops the
// connection. Messages for this shard are passed to the EmitOut callback.
func (ptcl *Protocol) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ptcl.ws.Close()
	}()

	for {
		in := ptcl.ws.Read()
		if ctx.Err() != nil {
			return nil
		}
		switch in.kind {
		case CONN_CLOSE:
			log.Warn("Trying to reconnect on", "url", ptcl.ws.url)
			if err := ptcl.ws.TryReconn(ctx); err != nil {
				return nil
			}
			log.Info("Successfully reconnected")

		case READ_FAILURE:
			log.Error("Failed to read", "err", in.err)
			if err := ptcl.ws.TryReconn(ctx); err != nil {
				return nil
			}

		case READ_OK:
			msg, err := Parse(string(in.msg))
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.msg), "err", err)
				continue
			}
			if msg.To != ptcl.shard && msg.To != Broadcast {
				continue
			}
			if ptcl.emitOut != nil {
				ptcl.emitOut(msg)
			}
		}
	}
}

// Close drops the connection.
func (ptcl *Protocol) Close() error { return ptcl.ws.Close() }

func Parse(line string) (*Message, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, errors.New("empty message")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		// frames are single-line
		return nil, fmt.Errorf("invalid whitespace present")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("too few fields: got %d, want >= 4", len(parts))
	}

	to := parts[0]
	verb := parts[1]
	noun := parts[2]
	from := parts[len(parts)-1]
	args := append([]string(nil), parts[3:len(parts)-1]...)

	if !isToken(to) && !isHexID(to) && to != Broadcast {
		return nil, fmt.Errorf("invalid TO token: %q", to)
	}
	if !isToken(from) && !isHexID(from) {
		return nil, fmt.Errorf("invalid FROM token: %q", from)
	}
	if !isToken(noun) || !isToken(verb) {
		return nil, fmt.Errorf("invalid NOUN/VERB: %q %q", noun, verb)
	}
	for i, a := range args {
		if !isToken(a) {
			return nil, fmt.Errorf("invalid ARG[%d]: %q", i, a)
		}
	}

	return &Message{
		To:   to,
		Verb: strings.ToUpper(verb),
		Noun: strings.ToUpper(noun),
		Args: args,
		From: from,
	}, nil
}

var (
	tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hexIDRe = regexp.MustCompile(`^[0-9A-F]{2}$`)
)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

func isHexID(s string) bool {
	return hexIDRe.MatchString(strings.ToUpper(s))
}

// EncodeText packs arbitrary text into a single token.
func EncodeText(text string) string {
	if text == "" {
		return "-"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(text))
}

// DecodeText reverses EncodeText.
func DecodeText(arg string) (string, error) {
	if arg == "-" {
		return "", nil
	}
	b, err := base64.RawURLEncoding.DecodeString(arg)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	return string(b), nil
}

type Message struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

func (m *Message) String() string {
	parts := make([]string, 0, 4+len(m.Args))
	parts = append(parts, m.To, m.Verb, m.Noun)
	parts = append(parts, m.Args...)
	parts = append(parts, m.From)
	return strings.Join(parts, ":")
}

// Reply returns a message addressed back to m's sender.
func (m *Message) Reply() Message {
	return Message{To: m.From, Noun: m.Verb}
}

func (m *Message) Error(reason string, args ...string) {
	m.Verb = "ERR"
	m.Noun = reason
	m.Args = args
}

func (m *Message) Ok(reason string, args ...string) {
	m.Verb = "OK"
	m.Noun = reason
	m.Args = args
}
