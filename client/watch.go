package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/chaoschain/gateway/stream"
)

// Watcher is an open event stream.
type Watcher struct {
	conn   net.Conn
	rw     io.ReadWriter
	events chan *stream.Event
	logger *slog.Logger

	closed atomic.Bool
	mu     sync.Mutex
	err    error
}

// Watch opens GET /events on topics and delivers events until ctx ends,
// the server goes away, or Close is called.
func (c *Client) Watch(ctx context.Context, topics ...string) (*Watcher, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("gateway: events url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := url.Values{}
	for _, t := range topics {
		q.Add("topic", t)
	}
	u.RawQuery = q.Encode()

	dialer := ws.Dialer{Timeout: c.http.Timeout}
	conn, br, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("gateway: dial events: %w", err)
	}

	w := &Watcher{
		conn:   conn,
		rw:     conn,
		events: make(chan *stream.Event, 64),
		logger: c.logger,
	}
	if br != nil {
		// The handshake reader may already hold frames.
		w.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	go w.readLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = w.Close()
	}()
	return w, nil
}

// Events returns the event channel. It is closed when the stream ends.
func (w *Watcher) Events() <-chan *stream.Event { return w.events }

// Err returns the error that ended the stream, or nil after Close or a
// normal server close.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close ends the stream.
func (w *Watcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	_ = wsutil.WriteClientMessage(w.conn, ws.OpClose, body)
	return w.conn.Close()
}

func (w *Watcher) readLoop(ctx context.Context) {
	defer close(w.events)
	for {
		data, op, err := wsutil.ReadServerData(w.rw)
		if err != nil {
			var closed wsutil.ClosedError
			if !w.closed.Load() && !errors.As(err, &closed) {
				w.mu.Lock()
				w.err = err
				w.mu.Unlock()
			}
			return
		}
		if op != ws.OpText {
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			w.logger.Warn("gateway: undecodable event", slog.String("error", err.Error()))
			continue
		}
		select {
		case w.events <- &evt:
		case <-ctx.Done():
			return
		}
	}
}
