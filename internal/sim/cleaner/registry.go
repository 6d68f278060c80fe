package cleaner

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelsweep.dev/internal/persistence/checkpoint"
	"voxelsweep.dev/internal/protocol"
	"voxelsweep.dev/internal/sim/tuning"
	"voxelsweep.dev/internal/sim/world"
)

var (
	ErrUnknownType     = errors.New("unknown cleaner type")
	ErrWorldNotFound   = errors.New("world not found")
	ErrDuplicateRegion = errors.New("a job already runs in that region")
)

// WorldResolver maps a world id to its live simulation, or nil.
type WorldResolver func(id string) *world.World

// Registry owns the set of live jobs. Creation and cancellation arrive
// from transport goroutines while jobs remove themselves from their
// own loops, so the table is mutex-guarded throughout.
type Registry struct {
	worlds WorldResolver
	gate   Authorizer
	store  Checkpointer
	load   LoadProvider
	sink   ProgressSink
	logger *log.Logger

	mu   sync.Mutex
	cfg  tuning.Tuning
	jobs map[string]*Job
}

func NewRegistry(cfg tuning.Tuning, worlds WorldResolver, gate Authorizer, store Checkpointer, load LoadProvider, sink ProgressSink, logger *log.Logger) *Registry {
	return &Registry{
		worlds: worlds,
		gate:   gate,
		store:  store,
		load:   load,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		jobs:   map[string]*Job{},
	}
}

func (r *Registry) deps(w *world.World) Deps {
	return Deps{
		World:    w,
		Gate:     r.gate,
		Store:    r.store,
		Load:     r.load,
		Progress: r.sink,
		Logger:   r.logger,
	}
}

// Create builds a job from a fresh placement, registers it and starts
// it. With prevent_duplicate_region enabled a live job already claiming
// the origin chunk rejects the placement.
func (r *Registry) Create(ownerID, ownerName, worldID, typeKey string, anchor world.Vec3i) (*Job, error) {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	ct, ok := cfg.Type(typeKey)
	if !ok {
		return nil, ErrUnknownType
	}
	w := r.worlds(worldID)
	if w == nil {
		return nil, ErrWorldNotFound
	}

	origin := world.ChunkOf(anchor.X, anchor.Z)
	spec := JobSpec{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		OwnerName:       ownerName,
		WorldID:         worldID,
		TypeKey:         typeKey,
		Size:            ct.Size,
		DurationSeconds: ct.DurationSeconds,
		StartedAt:       time.Now().Unix(),
		Anchor:          anchor,
		Origin:          origin,
	}
	// Fully initialize the job before it becomes visible to List and
	// the status broadcast.
	j := newJob(spec, cfg.Performance, r.deps(w), r.remove)
	if !j.prepare() {
		return nil, ErrWorldNotFound
	}

	r.mu.Lock()
	if cfg.PreventDuplicateRegion {
		for _, other := range r.jobs {
			if !other.Cancelled() && other.WorldID() == worldID && other.Origin() == origin {
				r.mu.Unlock()
				return nil, ErrDuplicateRegion
			}
		}
	}
	r.jobs[spec.ID] = j
	r.mu.Unlock()

	if r.store != nil {
		r.store.SaveIncremental(j.Record())
	}
	j.launch()
	if r.logger != nil {
		r.logger.Printf("job %s: started type=%s world=%s origin=(%d,%d) owner=%s",
			spec.ID, typeKey, worldID, origin.CX, origin.CZ, ownerName)
	}
	return j, nil
}

// Restore rebuilds a job from a checkpoint record and starts it. The
// persisted state is trusted: no duplicate-region validation.
func (r *Registry) Restore(rec checkpoint.Record) *Job {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	size := rec.Size
	if size < 1 {
		if ct, ok := cfg.Type(rec.TypeKey); ok {
			size = ct.Size
		} else {
			size = 1
		}
	}
	spec := JobSpec{
		ID:              rec.ID,
		OwnerID:         rec.OwnerID,
		OwnerName:       rec.OwnerName,
		WorldID:         rec.World,
		TypeKey:         rec.TypeKey,
		Size:            size,
		DurationSeconds: rec.DurationSeconds,
		StartedAt:       rec.StartedAt,
		Anchor:          world.Vec3i{X: rec.PlacedX, Y: rec.PlacedY, Z: rec.PlacedZ},
		Origin:          world.ChunkKey{CX: rec.ChunkX, CZ: rec.ChunkZ},
		RegionIndex:     rec.RegionIndex,
		Level:           rec.Level,
	}
	w := r.worlds(rec.World)
	j := newJob(spec, cfg.Performance, r.deps(w), r.remove)
	// A record for a vanished world self-cancels inside prepare and is
	// never registered.
	if !j.prepare() {
		return j
	}

	r.mu.Lock()
	r.jobs[spec.ID] = j
	r.mu.Unlock()

	j.launch()
	if r.logger != nil {
		r.logger.Printf("job %s: restored at region %d level %d", rec.ID, rec.RegionIndex, rec.Level)
	}
	return j
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Lookup returns the live job with the given id.
func (r *Registry) Lookup(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// CancelNear cancels the owner's job whose origin chunk contains the
// given block location. Reports whether one was found.
func (r *Registry) CancelNear(ownerID, worldID string, x, z int) bool {
	origin := world.ChunkOf(x, z)
	j := r.find(func(j *Job) bool {
		return j.OwnerID() == ownerID && j.WorldID() == worldID && j.Origin() == origin
	})
	if j == nil {
		return false
	}
	j.Cancel()
	return true
}

// CancelByOwnerName cancels the first job whose owner display name
// matches case-insensitively. Reports whether one was found.
func (r *Registry) CancelByOwnerName(name string) bool {
	j := r.find(func(j *Job) bool {
		return strings.EqualFold(j.OwnerName(), name)
	})
	if j == nil {
		return false
	}
	j.Cancel()
	return true
}

func (r *Registry) find(match func(*Job) bool) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if !j.Cancelled() && match(j) {
			return j
		}
	}
	return nil
}

// List returns one page of job summaries ordered by start time. The
// page is clamped into the valid range; maxPages is at least 1.
func (r *Registry) List(page, pageSize int) (jobs []protocol.JobSummary, clampedPage, maxPages int) {
	if pageSize < 1 {
		pageSize = 10
	}
	r.mu.Lock()
	all := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		all = append(all, j)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, k int) bool {
		if all[i].StartedAt() != all[k].StartedAt() {
			return all[i].StartedAt() < all[k].StartedAt()
		}
		return all[i].ID() < all[k].ID()
	})

	maxPages = (len(all) + pageSize - 1) / pageSize
	if maxPages < 1 {
		maxPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > maxPages {
		page = maxPages
	}

	lo := (page - 1) * pageSize
	hi := lo + pageSize
	if lo > len(all) {
		lo = len(all)
	}
	if hi > len(all) {
		hi = len(all)
	}
	out := make([]protocol.JobSummary, 0, hi-lo)
	for _, j := range all[lo:hi] {
		out = append(out, j.Summary())
	}
	return out, page, maxPages
}

// Count returns the number of registered jobs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Records snapshots the durable projection of every live job, for a
// full checkpoint rewrite.
func (r *Registry) Records() []checkpoint.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := make([]checkpoint.Record, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j.Cancelled() {
			continue
		}
		recs = append(recs, j.Record())
	}
	return recs
}

// BroadcastConfigChanged installs a new configuration snapshot and
// forwards it to every live job.
func (r *Registry) BroadcastConfigChanged(cfg tuning.Tuning) {
	r.mu.Lock()
	r.cfg = cfg
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()
	for _, j := range jobs {
		j.ConfigChanged(cfg.Performance)
	}
}

// ShutdownAll halts every live job without discarding checkpoint
// records, then clears the table. Blocks until the job loops exit.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.jobs = map[string]*Job{}
	r.mu.Unlock()

	for _, j := range jobs {
		j.halt()
	}
	for _, j := range jobs {
		<-j.Done()
	}
}
