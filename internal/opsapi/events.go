package opsapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/dataanalyst/sandboxpool/internal/sandboxpool"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return allowedOrigin(r.Header.Get("Origin"))
	},
}

// wireEvent is the JSON shape streamed over /v1/events; it flattens
// sandboxpool.Event so a dashboard never has to special-case which
// fields are meaningful for a given Kind.
type wireEvent struct {
	Kind      string `json:"kind"`
	SandboxID string `json:"sandboxId"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Failures  int    `json:"failures,omitempty"`
	Err       string `json:"error,omitempty"`
}

func toWireEvent(ev sandboxpool.Event) wireEvent {
	w := wireEvent{
		Kind:      string(ev.Kind),
		SandboxID: ev.SandboxID,
		From:      string(ev.From),
		To:        string(ev.To),
		Reason:    ev.Reason,
		Failures:  ev.Failures,
	}
	if ev.Err != nil {
		w.Err = ev.Err.Error()
	}
	return w
}

// streamEvents upgrades to a WebSocket and pushes every bus event as
// its own JSON text message. One-directional: a client write
// is read and discarded rather than echoed, so a slow/silent client
// never stalls the writer (gorilla requires reads to keep the
// connection's control-frame handling alive).
func (h *Handler) streamEvents(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	events := make(chan sandboxpool.Event, 64)
	unregister := h.mgr.On(func(ev sandboxpool.Event) {
		select {
		case events <- ev:
		default:
			log.Warn().Msg("opsapi: events subscriber too slow, dropping event")
		}
	})
	defer unregister()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case ev := <-events:
			payload, err := json.Marshal(toWireEvent(ev))
			if err != nil {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return nil
			}
		}
	}
}
