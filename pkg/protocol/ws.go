package protocol

import (
	"context"
	"errors"
	"sync"
	"time"

	log "log/slog"

	ws "github.com/gorilla/websocket"
)

var errClosed = errors.New("websocket closed")

type WebSocket struct {
	url     string
	reconn  time.Duration
	timeout time.Duration

	mu     sync.Mutex // guards conn and serializes writes
	conn   *ws.Conn
	closed bool
}

func NewWebSocket(ctx context.Context, url string, reconn, timeout time.Duration) (*WebSocket, error) {
	log.Debug("init websocket protocol", "url", url)

	if reconn <= 0 {
		reconn = time.Second
	}
	web := &WebSocket{url: url, reconn: reconn, timeout: timeout}

	conn, err := web.dial(ctx)
	if err != nil {
		log.Error("Failed to dial url", "url", url, "err", err)
		return nil, err
	}
	web.conn = conn
	return web, nil
}

func (web *WebSocket) dial(ctx context.Context) (*ws.Conn, error) {
	if web.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, web.timeout)
		defer cancel()
	}
	conn, _, err := ws.DefaultDialer.DialContext(ctx, web.url, nil)
	return conn, err
}

func (web *WebSocket) Write(payload []byte) error {
	web.mu.Lock()
	defer web.mu.Unlock()
	if web.closed {
		return errClosed
	}
	log.Debug("Write ws", "msg", string(payload))
	if web.timeout > 0 {
		_ = web.conn.SetWriteDeadline(time.Now().Add(web.timeout))
	}
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

type WsIncomeKind uint

const (
	CONN_CLOSE WsIncomeKind = iota
	READ_FAILURE
	READ_OK
)

type Income struct {
	kind WsIncomeKind
	msg  []byte
	err  error
}

// Read blocks for the next frame. Only one goroutine may read.
func (web *WebSocket) Read() Income {
	web.mu.Lock()
	conn := web.conn
	web.mu.Unlock()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		if WsIsClosed(err) {
			return Income{kind: CONN_CLOSE, err: err}
		}
		return Income{kind: READ_FAILURE, err: err}
	}

	log.Debug("Read ws", "msg", string(msg))
	return Income{kind: READ_OK, msg: msg}
}

// TryReconn redials every reconn interval until it succeeds or ctx is done.
func (web *WebSocket) TryReconn(ctx context.Context) error {
	for {
		conn, err := web.dial(ctx)
		if err == nil {
			web.mu.Lock()
			if web.closed {
				web.mu.Unlock()
				conn.Close()
				return errClosed
			}
			web.conn.Close()
			web.conn = conn
			web.mu.Unlock()
			return nil
		}
		log.Debug("Reconnect failed", "url", web.url, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(web.reconn):
		}
	}
}

func (web *WebSocket) Close() error {
	web.mu.Lock()
	defer web.mu.Unlock()
	if web.closed {
		return nil
	}
	web.closed = true
	_ = web.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return web.conn.Close()
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
