package world

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type WorldConfig struct {
	ID         string
	TickRateHz int
	MinLevel   int
	MaxLevel   int // exclusive
	Seed       int64
	BoundaryR  int
}

func (c *WorldConfig) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.MaxLevel <= c.MinLevel {
		c.MaxLevel = c.MinLevel + 1
	}
	if c.BoundaryR <= 0 {
		c.BoundaryR = 4000
	}
}

// World is the exclusive mutation context: a single-goroutine
// authoritative simulation. All block, item and session mutation
// happens on the loop goroutine; the claim index and the capacity
// gauge are the only members readable from outside.
type World struct {
	cfg    WorldConfig
	logger *log.Logger

	tick atomic.Uint64

	chunks *ChunkStore
	claims *ClaimIndex

	// Loop-owned.
	items       map[ChunkKey][]*ItemEntity
	nextItemNum uint64

	sessMu   sync.RWMutex
	sessions map[string]*Session

	work  chan WorkGroup
	join  chan JoinRequest
	leave chan string
	stop  chan struct{}

	// Smoothed normalized headroom, 1.0 = unconstrained.
	capacityBits atomic.Uint64
}

type Session struct {
	OwnerID string
	Name    string
	Out     chan []byte
}

type JoinRequest struct {
	OwnerID string
	Name    string
	Out     chan []byte
	Resp    chan *Session
}

func New(cfg WorldConfig, logger *log.Logger) *World {
	cfg.applyDefaults()
	w := &World{
		cfg:    cfg,
		logger: logger,
		chunks: NewChunkStore(WorldGen{
			Seed:      cfg.Seed,
			MinY:      cfg.MinLevel,
			MaxY:      cfg.MaxLevel,
			BoundaryR: cfg.BoundaryR,
		}),
		claims:   NewClaimIndex(),
		items:    map[ChunkKey][]*ItemEntity{},
		sessions: map[string]*Session{},
		work:     make(chan WorkGroup, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		stop:     make(chan struct{}),
	}
	w.capacityBits.Store(math.Float64bits(1.0))
	return w
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) MinLevel() int { return w.cfg.MinLevel }
func (w *World) MaxLevel() int { return w.cfg.MaxLevel }

func (w *World) Claims() *ClaimIndex { return w.claims }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Join() chan<- JoinRequest { return w.join }
func (w *World) Leave() chan<- string     { return w.leave }

// Reachable reports whether the owner has a live session attached.
// Safe from any goroutine.
func (w *World) Reachable(ownerID string) bool {
	w.sessMu.RLock()
	defer w.sessMu.RUnlock()
	return w.sessions[ownerID] != nil
}

// Notify pushes a message to the owner's session outbox, dropping the
// oldest pending message when the outbox is full. Safe from any
// goroutine.
func (w *World) Notify(ownerID string, b []byte) {
	w.sessMu.RLock()
	s := w.sessions[ownerID]
	w.sessMu.RUnlock()
	if s == nil {
		return
	}
	sendLatest(s.Out, b)
}

// Capacity returns the smoothed normalized headroom of the loop in
// [0,1]; 1.0 means ticks finish well inside their interval. Safe from
// any goroutine.
func (w *World) Capacity() float64 {
	c := math.Float64frombits(w.capacityBits.Load())
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingWork []WorkGroup

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			w.handleJoin(req)
		case id := <-w.leave:
			w.handleLeave(id)
		case g := <-w.work:
			pendingWork = append(pendingWork, g)
		case <-ticker.C:
			start := time.Now()
			w.step(pendingWork)
			pendingWork = pendingWork[:0]
			w.observeStep(time.Since(start), interval)
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) step(work []WorkGroup) {
	for _, g := range work {
		w.runWorkGroup(g)
	}
	w.tick.Add(1)
}

// StepOnce drains any already-queued work and advances one tick with
// the same ordering semantics as Run. Intended for deterministic tests.
func (w *World) StepOnce() uint64 {
	var pending []WorkGroup
	for {
		select {
		case g := <-w.work:
			pending = append(pending, g)
			continue
		default:
		}
		break
	}
	t := w.tick.Load()
	w.step(pending)
	return t
}

func (w *World) observeStep(busy, interval time.Duration) {
	sample := 1.0 - float64(busy)/float64(interval)
	if sample < 0 {
		sample = 0
	}
	if sample > 1 {
		sample = 1
	}
	prev := math.Float64frombits(w.capacityBits.Load())
	smoothed := 0.8*prev + 0.2*sample
	w.capacityBits.Store(math.Float64bits(smoothed))
}

func (w *World) handleJoin(req JoinRequest) {
	s := &Session{OwnerID: req.OwnerID, Name: req.Name, Out: req.Out}
	w.sessMu.Lock()
	w.sessions[req.OwnerID] = s
	w.sessMu.Unlock()
	if req.Resp != nil {
		req.Resp <- s
	}
}

func (w *World) handleLeave(ownerID string) {
	w.sessMu.Lock()
	delete(w.sessions, ownerID)
	w.sessMu.Unlock()
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
