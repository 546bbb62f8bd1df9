// Package ws streams a session's balance events to browser panels over
// WebSocket.
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fastprodman/balancesync/internal/infra/logging"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/gorilla/websocket"
)

const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"

	writeWait     = 5 * time.Second
	defaultBuffer = 64
)

// Source is what the hub reads from; *session.Session satisfies it.
type Source interface {
	Snapshot() ledger.Snapshot
	Subscribe(fn func(ledger.Event)) func()
}

// Frame is one message sent to a client. The first frame on every
// connection is a snapshot, the rest are events.
type Frame struct {
	Type     string          `json:"type"`
	Snapshot ledger.Snapshot `json:"snapshot"`
	Event    *ledger.Event   `json:"event,omitempty"`
}

type Hub struct {
	src      Source
	log      *slog.Logger
	buffer   int
	upgrader websocket.Upgrader
}

func NewHub(src Source, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}

	return &Hub{
		src:    src,
		log:    log,
		buffer: defaultBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// client is the per-connection outbox. A client that lets it fill up is
// dropped.
type client struct {
	out  chan Frame
	slow chan struct{}
	once sync.Once
}

func newClient(buffer int) *client {
	return &client{
		out:  make(chan Frame, buffer),
		slow: make(chan struct{}),
	}
}

// offer never blocks the publisher.
func (c *client) offer(f Frame) bool {
	select {
	case c.out <- f:
		return true
	default:
		c.once.Do(func() { close(c.slow) })

		return false
	}
}

func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade connection", logging.Err(err))

		return
	}

	defer func() {
		cerr := conn.Close()
		if cerr != nil {
			h.log.Debug("failed to close connection", logging.Err(cerr))
		}
	}()

	c := newClient(h.buffer)

	unsubscribe := h.src.Subscribe(func(ev ledger.Event) {
		c.offer(Frame{Type: FrameEvent, Snapshot: ev.Snapshot, Event: &ev})
	})
	defer unsubscribe()

	err = h.write(conn, Frame{Type: FrameSnapshot, Snapshot: h.src.Snapshot()})
	if err != nil {
		h.log.Warn("failed to write snapshot", logging.Err(err))

		return
	}

	gone := make(chan struct{})

	go func() {
		defer close(gone)

		for {
			_, _, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
		}
	}()

	for {
		select {
		case f := <-c.out:
			err = h.write(conn, f)
			if err != nil {
				h.log.Warn("failed to write event", logging.Err(err))

				return
			}
		case <-c.slow:
			h.log.Warn("dropping slow websocket client", slog.String("remote", r.RemoteAddr))

			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "slow consumer")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))

			return
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, f Frame) error {
	err := conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err != nil {
		return err
	}

	return conn.WriteJSON(f)
}
