package agent

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/playperu/geoquest/internal/geoquest"
)

// inbound is a device-to-agent websocket frame: a position fix or a
// location error.
type inbound struct {
	Type     string  `json:"type"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
	Code     string  `json:"code"`
	Message  string  `json:"message"`
}

func (a *Agent) handleLocation(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p := a.hub.join()
	defer a.hub.leave(p)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-p.out:
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					a.logger.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			a.logger.Debug("websocket read ended", "error", err)
			return
		}
		switch msg.Type {
		case "sample":
			a.session.UpdateLocation(geoquest.LocationSample{Lat: msg.Lat, Lng: msg.Lng, Accuracy: msg.Accuracy})
		case "error":
			a.session.LocationFailed(msg.Code, msg.Message)
		default:
			a.logger.Debug("unknown location frame", "type", msg.Type)
		}
	}
}
