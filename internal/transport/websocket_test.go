package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWSServer starts an httptest server upgrading every request and handing
// the connection to handler.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func nextFrame(t *testing.T, frames <-chan Frame) (Frame, bool) {
	t.Helper()
	select {
	case frame, ok := <-frames:
		return frame, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}, false
	}
}

func TestWebSocketEcho(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, append([]byte("echo:"), payload...)); err != nil {
				return
			}
		}
	})

	conn, err := NewWebSocketDialer(WebSocketConfig{}).Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	frame, ok := nextFrame(t, conn.Frames())
	require.True(t, ok)
	assert.Equal(t, FrameConnected, frame.Kind)

	require.NoError(t, conn.WriteText(`{"id":1}`))
	require.NoError(t, conn.WriteText(`{"id":2}`))

	for _, want := range []string{`echo:{"id":1}`, `echo:{"id":2}`} {
		frame, ok = nextFrame(t, conn.Frames())
		require.True(t, ok)
		assert.Equal(t, FrameText, frame.Kind)
		assert.Equal(t, want, frame.Text)
	}
}

func TestWebSocketServerDrop(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("bye"))
	})

	conn, err := NewWebSocketDialer(WebSocketConfig{}).Dial(context.Background(), url)
	require.NoError(t, err)

	var kinds []FrameKind
	for {
		frame, ok := nextFrame(t, conn.Frames())
		if !ok {
			break
		}
		kinds = append(kinds, frame.Kind)
		if frame.Kind == FrameError {
			assert.Error(t, frame.Err)
		}
	}

	assert.Equal(t, []FrameKind{FrameConnected, FrameText, FrameError}, kinds)
	assert.ErrorIs(t, conn.WriteText("late"), ErrClosed)
}

func TestWebSocketClose(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	conn, err := NewWebSocketDialer(WebSocketConfig{PingInterval: 10 * time.Millisecond}).Dial(context.Background(), url)
	require.NoError(t, err)

	frame, ok := nextFrame(t, conn.Frames())
	require.True(t, ok)
	assert.Equal(t, FrameConnected, frame.Kind)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	frame, ok = nextFrame(t, conn.Frames())
	require.True(t, ok)
	assert.Equal(t, FrameClosed, frame.Kind)

	_, ok = nextFrame(t, conn.Frames())
	assert.False(t, ok)
	assert.ErrorIs(t, conn.WriteText("late"), ErrClosed)
}

func TestWebSocketDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewWebSocketDialer(WebSocketConfig{}).Dial(ctx, "ws://127.0.0.1:1")
	assert.Error(t, err)
}
