package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/voice"
	"aegis/pkg/protocol"
)

// hub accepts one connection, records what the shard sends and lets the
// test push frames to it.
type hub struct {
	srv  *httptest.Server
	recv chan string
	conn chan *ws.Conn
}

func newHub(t *testing.T) *hub {
	t.Helper()
	h := &hub{recv: make(chan string, 16), conn: make(chan *ws.Conn, 1)}
	up := ws.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conn <- c
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			h.recv <- string(msg)
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hub) url() string { return "ws" + strings.TrimPrefix(h.srv.URL, "http") }

func (h *hub) next(t *testing.T) string {
	t.Helper()
	select {
	case m := <-h.recv:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("hub received nothing")
		return ""
	}
}

type fakeSpeaker struct {
	mu    sync.Mutex
	said  []string
	prios []voice.Priority
	err   error
}

func (s *fakeSpeaker) Speak(text string, p voice.Priority) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return uuid.Nil, s.err
	}
	s.said = append(s.said, text)
	s.prios = append(s.prios, p)
	return uuid.MustParse("00000000-0000-0000-0000-000000000001"), nil
}

func startRelay(t *testing.T, sp Speaker) (*hub, *Relay, *ws.Conn) {
	t.Helper()
	h := newHub(t)
	ctx, cancel := context.WithCancel(context.Background())

	r, err := Dial(ctx, Config{URL: h.url(), Shard: "AEGIS", Target: "HUB"}, sp)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h, r, <-h.conn
}

func TestPublish(t *testing.T) {
	h, r, _ := startRelay(t, &fakeSpeaker{})

	require.NoError(t, r.Publish(voice.CommandEvent{Kind: voice.WakeDetected}))
	assert.Equal(t, "HUB:EVENT:WAKE:AEGIS", h.next(t))

	require.NoError(t, r.Publish(voice.CommandEvent{Kind: voice.Command, Text: "que horas são"}))
	m, err := protocol.Parse(h.next(t))
	require.NoError(t, err)
	assert.Equal(t, "COMMAND", m.Noun)
	require.Len(t, m.Args, 1)
	text, err := protocol.DecodeText(m.Args[0])
	require.NoError(t, err)
	assert.Equal(t, "que horas são", text)
}

func TestInboundSay(t *testing.T) {
	sp := &fakeSpeaker{}
	h, _, conn := startRelay(t, sp)

	say := "AEGIS:SAYNOW:TEXT:" + protocol.EncodeText("alerta: porta aberta") + ":HUB"
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(say)))
	assert.Equal(t, "HUB:OK:SAYNOW:00000000-0000-0000-0000-000000000001:AEGIS", h.next(t))

	sp.mu.Lock()
	assert.Equal(t, []string{"alerta: porta aberta"}, sp.said)
	assert.Equal(t, []voice.Priority{voice.Immediate}, sp.prios)
	sp.mu.Unlock()

	// not for us
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("OTHER:SAY:TEXT:eA:HUB")))
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("AEGIS:DANCE:NOW:HUB")))
	assert.Equal(t, "HUB:ERR:UNKNOWN:AEGIS", h.next(t))
}

func TestInboundSayRejected(t *testing.T) {
	sp := &fakeSpeaker{err: &voice.EngineStateError{Op: "speak", Phase: voice.Stopped}}
	h, _, conn := startRelay(t, sp)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("AEGIS:SAY:TEXT:eA:HUB")))
	assert.Equal(t, "HUB:ERR:STATE:AEGIS", h.next(t))
}
