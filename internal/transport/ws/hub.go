package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"voxelsweep.dev/internal/protocol"
	"voxelsweep.dev/internal/sim/cleaner"
)

const statusPageSize = 10

// Hub fans job events out to every connected status client. It is the
// registry's progress sink.
type Hub struct {
	log *log.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log:     logger,
		clients: map[chan []byte]struct{}{},
	}
}

func (h *Hub) add(out chan []byte) {
	h.mu.Lock()
	h.clients[out] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(out chan []byte) {
	h.mu.Lock()
	delete(h.clients, out)
	h.mu.Unlock()
}

// broadcast drops the oldest pending message of a slow client rather
// than block.
func (h *Hub) broadcast(b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for out := range h.clients {
		sendLatest(out, b)
	}
}

func (h *Hub) broadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		if h.log != nil {
			h.log.Printf("hub: marshal: %v", err)
		}
		return
	}
	h.broadcast(b)
}

func (h *Hub) JobProgress(s protocol.JobSummary) {
	h.broadcastJSON(protocol.ProgressMsg{
		Type:            protocol.TypeProgress,
		ProtocolVersion: protocol.Version,
		JobID:           s.ID,
		Percent:         s.Percent,
		ETASeconds:      s.ETASeconds,
	})
}

func (h *Hub) JobFinished(s protocol.JobSummary) {
	h.broadcastJSON(protocol.JobDoneMsg{
		Type:            protocol.TypeJobDone,
		ProtocolVersion: protocol.Version,
		JobID:           s.ID,
		OwnerName:       s.OwnerName,
	})
}

func (h *Hub) JobCancelled(s protocol.JobSummary) {
	h.broadcastJSON(protocol.JobDoneMsg{
		Type:            protocol.TypeJobCancelled,
		ProtocolVersion: protocol.Version,
		JobID:           s.ID,
		OwnerName:       s.OwnerName,
	})
}

// RunStatus broadcasts the first status page on a fixed interval until
// done closes.
func (h *Hub) RunStatus(done <-chan struct{}, reg *cleaner.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.broadcastJSON(statusPage(reg, 1, statusPageSize))
		}
	}
}

func statusPage(reg *cleaner.Registry, page, pageSize int) protocol.StatusMsg {
	jobs, page, maxPages := reg.List(page, pageSize)
	return protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Page:            page,
		MaxPages:        maxPages,
		Jobs:            jobs,
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
