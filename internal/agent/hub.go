package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

var errNoDevice = errors.New("no device connected")

// Message is a server-to-device websocket frame.
type Message struct {
	Type     string  `json:"type"`
	Fraction float64 `json:"fraction,omitempty"`
	Label    string  `json:"label,omitempty"`
}

// Hub fans messages out to every connected location socket. It implements
// engine.Haptics; Pulse never blocks and drops frames for slow peers.
type Hub struct {
	mu     sync.Mutex
	peers  map[*peer]struct{}
	logger *slog.Logger
}

type peer struct {
	out chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{peers: make(map[*peer]struct{}), logger: logger}
}

func (h *Hub) join() *peer {
	p := &peer{out: make(chan []byte, 8)}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	return p
}

func (h *Hub) leave(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}

// Peers returns the number of connected devices.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Hub) broadcast(m Message) int {
	data, _ := json.Marshal(m)
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for p := range h.peers {
		select {
		case p.out <- data:
			sent++
		default:
			h.logger.Debug("device too slow, frame dropped", "type", m.Type)
		}
	}
	return sent
}

// Pulse asks every connected device for one short vibration.
func (h *Hub) Pulse(context.Context) error {
	if h.broadcast(Message{Type: "haptic"}) == 0 {
		return errNoDevice
	}
	return nil
}

// Progress forwards bulk operation progress to connected devices.
func (h *Hub) Progress(fraction float64, label string) {
	h.broadcast(Message{Type: "progress", Fraction: fraction, Label: label})
}
