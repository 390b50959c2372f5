package jvl

import (
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/nosseb/gomac/util"
)

const (
	// DefaultStreamInterval is the time between two status messages
	DefaultStreamInterval = 250 * time.Millisecond

	// minStreamInterval keeps one client from monopolizing the bus
	minStreamInterval = 20 * time.Millisecond
	maxStreamInterval = time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamStatus upgrades to a websocket and sends the motor Status as JSON
// every interval (query parameter, e.g. ?interval=100ms) until the client
// goes away or the motor stops answering
func (h *HTTPWrapper) StreamStatus(w http.ResponseWriter, r *http.Request) {
	interval := DefaultStreamInterval
	if q := r.URL.Query().Get("interval"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		interval = time.Duration(util.Clamp(float64(d), float64(minStreamInterval), float64(maxStreamInterval)))
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has replied already
		glog.Warningf("motor %d: status stream: %v", h.Address(), err)
		return
	}
	defer conn.Close()

	// the client sends nothing; reading notices when it closes
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := h.RefreshStatus(r.Context()); err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		if err := conn.WriteJSON(h.Motor.Status()); err != nil {
			return
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
