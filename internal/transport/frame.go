// Package transport owns the websocket connection to the JSON-RPC endpoint
// and turns it into an ordered stream of tagged frames.
package transport

import (
	"context"
	"fmt"
)

// FrameKind tags a Frame.
type FrameKind int

const (
	// FrameConnected is always the first frame of a connection.
	FrameConnected FrameKind = iota
	// FrameText carries one inbound text message.
	FrameText
	// FrameError reports a transport failure; it is the last frame.
	FrameError
	// FrameClosed reports a close requested through Close; it is the last frame.
	FrameClosed
)

func (k FrameKind) String() string {
	switch k {
	case FrameConnected:
		return "connected"
	case FrameText:
		return "text"
	case FrameError:
		return "error"
	case FrameClosed:
		return "closed"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one item of the inbound stream.
type Frame struct {
	Kind FrameKind
	Text string
	Err  error
}

// Connection is an open socket. Frames are delivered in arrival order and the
// channel is closed after the terminal frame.
type Connection interface {
	WriteText(text string) error
	Close() error
	Frames() <-chan Frame
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Connection, error)
}
