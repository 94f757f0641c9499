package lazyloader

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// EventSource yields raw coordinator frames. Next blocks until a frame
// arrives, ctx is cancelled, or the stream fails.
type EventSource interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// WebSocketSource reads text frames from the coordinator's websocket
// endpoint. A websocket read error is terminal for the connection, so a
// single reader goroutine owns the socket and hands frames over a channel;
// Close unblocks it whether it waits on the socket or on the hand-off.
type WebSocketSource struct {
	conn       *websocket.Conn
	frames     chan string
	readErr    chan error
	done       chan struct{}
	readerDone chan struct{} // closed when the reader goroutine returns
	closeOnce  sync.Once
	logger     logging.Logger
}

func NewWebSocketSource(ctx context.Context, url string, logger logging.Logger) (*WebSocketSource, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.NewNetworkError("failed to connect to coordinator event stream", err).
			WithContext("url", url)
	}
	logger.Infof("Connected to coordinator event stream, url: %s", url)

	source := &WebSocketSource{
		conn:       conn,
		frames:     make(chan string),
		readErr:    make(chan error, 1),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		logger:     logger,
	}
	go source.readLoop()
	return source, nil
}

func (s *WebSocketSource) readLoop() {
	defer close(s.readerDone)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr <- err
			return
		}
		if messageType != websocket.TextMessage {
			s.logger.Warnf("Ignoring non-text frame, message type: %d", messageType)
			continue
		}
		select {
		case s.frames <- string(data):
		case <-s.done:
			return
		}
	}
}

func (s *WebSocketSource) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", errors.NewCancelledError("event stream read cancelled", ctx.Err())
	case <-s.done:
		return "", errors.NewCancelledError("event source closed", nil)
	case err := <-s.readErr:
		return "", errors.NewNetworkError("event stream read failed", err)
	case frame := <-s.frames:
		return frame, nil
	}
}

func (s *WebSocketSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close()
}
