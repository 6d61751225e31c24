package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecmd/internal/orchestrator"
	"github.com/MrWong99/voicecmd/internal/queue"
)

// writeTimeout bounds a single frame write to a slow client.
const writeTimeout = 5 * time.Second

// EventType names the payload of an [Event].
type EventType string

const (
	EventState EventType = "state"
	EventQueue EventType = "queue"
)

// Event is one frame on the /v1/events stream.
type Event struct {
	Type  EventType           `json:"type"`
	State *orchestrator.State `json:"state,omitempty"`
	Queue []queue.Command     `json:"queue,omitempty"`
}

// handleEvents upgrades to a WebSocket and streams orchestrator state and
// queue snapshots until the client disconnects or the orchestrator closes.
// Slow clients skip intermediate snapshots; the latest one is always sent.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	states, cancelStates := s.orch.Subscribe(4)
	defer cancelStates()

	snaps := make(chan []queue.Command, 1)
	unsubQueue := s.queue.Subscribe(func(cmds []queue.Command) {
		latest(snaps, cmds)
	})
	defer unsubQueue()
	latest(snaps, s.queue.Queue())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case st, ok := <-states:
				if !ok {
					return errStreamClosed
				}
				if err := send(ctx, conn, Event{Type: EventState, State: &st}); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cmds := <-snaps:
				if err := send(ctx, conn, Event{Type: EventQueue, Queue: cmds}); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errStreamClosed):
		conn.Close(websocket.StatusGoingAway, "shutting down")
	case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
		// Client went away.
	default:
		slog.Debug("api: event stream ended", "err", err)
		conn.Close(websocket.StatusInternalError, "stream error")
	}
}

var errStreamClosed = errors.New("api: event source closed")

func send(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// latest replaces any buffered value in ch with v.
func latest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
