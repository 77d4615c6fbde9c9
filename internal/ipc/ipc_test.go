package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, h Handler) (string, context.CancelFunc, chan error) {
	t.Helper()
	// unix socket paths are short; t.TempDir can exceed the limit
	dir, err := os.MkdirTemp("", "aegis")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ctl.sock")

	srv, err := Listen(path, h)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(cancel)
	return path, cancel, done
}

func TestSendAndReply(t *testing.T) {
	got := make(chan ControlMessage, 1)
	path, _, _ := startServer(t, func(_ context.Context, msg ControlMessage) Reply {
		got <- msg
		if msg.Cmd == CmdStatus {
			return Reply{OK: true, Status: &Status{Phase: "running", Pending: 2}}
		}
		return Reply{OK: true, ID: "abc"}
	})

	reply, err := Send(path, ControlMessage{Cmd: CmdSpeak, Text: "olá"})
	require.NoError(t, err)
	assert.Equal(t, "abc", reply.ID)
	assert.Equal(t, ControlMessage{Cmd: CmdSpeak, Text: "olá"}, <-got)

	reply, err = Send(path, ControlMessage{Cmd: CmdStatus})
	require.NoError(t, err)
	require.NotNil(t, reply.Status)
	assert.Equal(t, 2, reply.Status.Pending)
}

func TestSendErrorReply(t *testing.T) {
	path, _, _ := startServer(t, func(context.Context, ControlMessage) Reply {
		return Fail(errors.New("engine stopped"))
	})

	_, err := Send(path, ControlMessage{Cmd: CmdTrigger})
	assert.EqualError(t, err, "engine stopped")
}

func TestServeStopsAndRemovesSocket(t *testing.T) {
	path, cancel, done := startServer(t, func(context.Context, ControlMessage) Reply { return Reply{OK: true} })

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Send(path, ControlMessage{Cmd: CmdStatus})
	assert.Error(t, err)
}

func TestListenRefusesLiveSocket(t *testing.T) {
	path, _, _ := startServer(t, func(context.Context, ControlMessage) Reply { return Reply{OK: true} })
	_, err := Listen(path, nil)
	assert.Error(t, err)
}
