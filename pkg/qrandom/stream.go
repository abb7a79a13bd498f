package qrandom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Stream is an open connection to /random/stream.
type Stream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	done      chan struct{}
}

// Stream opens the WebSocket stream. The connection is closed when ctx is
// done.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint, err := c.streamURL()
	if err != nil {
		return nil, err
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open stream: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("open stream: %w", err)
	}

	s := &Stream{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Next blocks until the next message arrives. It returns an error once
// either side has closed the stream.
func (s *Stream) Next() (*StreamMessage, error) {
	var msg StreamMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNormalClosure {
			return nil, fmt.Errorf("stream closed by server: %d %s", closeErr.Code, closeErr.Text)
		}
		return nil, err
	}
	return &msg, nil
}

// Close ends the stream with a normal closure.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}

func (c *Client) streamURL() (string, error) {
	parsed, err := url.Parse(c.baseURL())
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid base url %q: unsupported scheme", c.BaseURL)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/random/stream"
	return parsed.String(), nil
}
