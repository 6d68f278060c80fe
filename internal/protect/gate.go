package protect

import (
	"log"
	"sync"
	"time"

	"voxelsweep.dev/internal/sim/world"
)

// PolicySource is one independently-optional protection integration.
// Implementations must be safe for concurrent use and must deny on
// internal error rather than report one.
type PolicySource interface {
	Name() string
	MayMutate(actorID string, loc world.Vec3i) bool
}

// OnlineChecker reports whether an actor currently has a live session.
type OnlineChecker interface {
	Reachable(ownerID string) bool
}

// AuditSink receives flushed chunk summaries.
type AuditSink interface {
	WriteSummary(e SummaryEntry) error
}

type SummaryEntry struct {
	At        int64          `json:"at"`
	Actor     string         `json:"actor"`
	World     string         `json:"world"`
	Pos       [3]int         `json:"pos"`
	Removed   int            `json:"removed"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

type Config struct {
	MaxEntriesPerFlush int
	QueueMaxSize       int
	QueueTrimTo        int
}

// Gate composes the configured policy sources and owns the bounded
// audit queue. Sources are resolved once at startup; availability is
// never re-detected per call.
type Gate struct {
	sources []PolicySource
	online  OnlineChecker
	sink    AuditSink
	logger  *log.Logger
	cfg     Config

	mu    sync.Mutex
	queue []SummaryEntry
}

func NewGate(sources []PolicySource, online OnlineChecker, sink AuditSink, cfg Config, logger *log.Logger) *Gate {
	if cfg.MaxEntriesPerFlush <= 0 {
		cfg.MaxEntriesPerFlush = 50
	}
	if cfg.QueueMaxSize <= 0 {
		cfg.QueueMaxSize = 5000
	}
	if cfg.QueueTrimTo <= 0 || cfg.QueueTrimTo > cfg.QueueMaxSize {
		cfg.QueueTrimTo = cfg.QueueMaxSize
	}
	return &Gate{
		sources: sources,
		online:  online,
		sink:    sink,
		logger:  logger,
		cfg:     cfg,
	}
}

func (g *Gate) Sources() []PolicySource { return g.sources }

// MayMutate reports whether the actor may mutate at loc. Any
// configured source can veto; with no sources everything is allowed.
func (g *Gate) MayMutate(actorID string, loc world.Vec3i) bool {
	for _, src := range g.sources {
		if !src.MayMutate(actorID, loc) {
			return false
		}
	}
	return true
}

// MayEditRegionOnBehalfOf answers the per-region question a job asks
// before each batch. With protections configured, an offline owner can
// never be conservatively authorized.
func (g *Gate) MayEditRegionOnBehalfOf(ownerID string, loc world.Vec3i) bool {
	if len(g.sources) == 0 {
		return true
	}
	if g.online == nil || !g.online.Reachable(ownerID) {
		return false
	}
	return g.MayMutate(ownerID, loc)
}

// EnqueueAudit appends a chunk summary. Empty summaries and overflow
// are dropped silently; the queue never blocks a job.
func (g *Gate) EnqueueAudit(e SummaryEntry) {
	if e.Removed <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) >= g.cfg.QueueMaxSize {
		return
	}
	g.queue = append(g.queue, e)
}

// QueueLen is exposed for tests and metrics.
func (g *Gate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Flush pops up to MaxEntriesPerFlush entries and forwards each to the
// sink. Sink failures are logged per entry and never stop the flush.
// If the queue still exceeds its max afterwards it is trimmed from the
// front as a last resort.
func (g *Gate) Flush() {
	g.mu.Lock()
	n := g.cfg.MaxEntriesPerFlush
	if n > len(g.queue) {
		n = len(g.queue)
	}
	batch := make([]SummaryEntry, n)
	copy(batch, g.queue[:n])
	g.queue = g.queue[n:]
	g.mu.Unlock()

	for _, e := range batch {
		if g.sink == nil {
			continue
		}
		if err := g.sink.WriteSummary(e); err != nil && g.logger != nil {
			g.logger.Printf("audit sink write failed: %v", err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) > g.cfg.QueueMaxSize {
		drop := len(g.queue) - g.cfg.QueueTrimTo
		g.queue = g.queue[drop:]
		if g.logger != nil {
			g.logger.Printf("audit queue exceeded max size; dropped %d entries", drop)
		}
	}
}

// RunFlusher flushes on a fixed interval until the context ends.
func (g *Gate) RunFlusher(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			g.Flush()
		}
	}
}
