package realtime

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"leadflow/internal/domain"
)

// Frame types on the websocket.
const (
	FrameReady  = "ready"
	FrameChange = "change"
)

// Frame is one message sent to a subscriber. Cursor is the seq the client
// resumes from after a reconnect.
type Frame struct {
	Type   string  `json:"type"`
	Cursor int64   `json:"cursor"`
	Change *Change `json:"change,omitempty"`
}

// ErrDropped is returned by Serve when the hub dropped the subscription
// because the client fell behind.
var ErrDropped = errors.New("realtime: subscriber dropped")

// Authenticator resolves the caller of a websocket request. readAll reports
// whether the caller bypasses the visibility filter.
type Authenticator func(r *http.Request) (who domain.Identity, readAll bool, err error)

// Handler upgrades to a websocket and streams changes for the caller. The
// optional after query parameter replays events with a greater id first.
func (h *Hub) Handler(authn Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, readAll, err := authn(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		after := int64(-1)
		if raw := r.URL.Query().Get("after"); raw != "" {
			after, err = strconv.ParseInt(raw, 10, 64)
			if err != nil || after < 0 {
				http.Error(w, "after must be a non-negative integer", http.StatusBadRequest)
				return
			}
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.logger.Warn("realtime: accept failed", "err", err)
			return
		}
		defer conn.CloseNow()
		ctx := conn.CloseRead(r.Context())

		err = h.Serve(ctx, conn, who, readAll, after)
		switch {
		case errors.Is(err, ErrDropped):
			conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
		case ctx.Err() != nil:
		default:
			h.logger.Debug("realtime: connection ended", "actor_id", who.ID, "err", err)
			conn.Close(websocket.StatusNormalClosure, "")
		}
	}
}

// Serve writes the replay after cursor, a ready frame, and then live
// changes until ctx ends. A negative after skips the replay.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, who domain.Identity, readAll bool, after int64) error {
	sub, last := h.Attach()
	defer h.Unsubscribe(sub)

	send := func(c Change) error {
		scoped, ok := ForIdentity(c, who, readAll)
		if !ok {
			return nil
		}
		return wsjson.Write(ctx, conn, Frame{Type: FrameChange, Cursor: c.Seq, Change: &scoped})
	}

	if after >= 0 {
		var err error
		if last, err = h.Replay(ctx, after, send); err != nil {
			return err
		}
	}
	if err := wsjson.Write(ctx, conn, Frame{Type: FrameReady, Cursor: last}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-sub.C:
			if !ok {
				return ErrDropped
			}
			if c.Seq <= last {
				continue
			}
			if err := send(c); err != nil {
				return err
			}
			last = c.Seq
		}
	}
}
