package cleaner

import (
	"encoding/json"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voxelsweep.dev/internal/persistence/checkpoint"
	"voxelsweep.dev/internal/protect"
	"voxelsweep.dev/internal/protocol"
	"voxelsweep.dev/internal/sim/tuning"
	"voxelsweep.dev/internal/sim/world"
)

// LoadProvider samples the host's normalized capacity; 1.0 means the
// mutation loop finishes its ticks with room to spare.
type LoadProvider interface {
	Capacity() float64
}

// Authorizer answers the per-region question a job asks before each
// batch, and accepts flushed chunk summaries.
type Authorizer interface {
	MayEditRegionOnBehalfOf(ownerID string, loc world.Vec3i) bool
	EnqueueAudit(e protect.SummaryEntry)
}

// Checkpointer is the durable side of a job.
type Checkpointer interface {
	SaveIncremental(r checkpoint.Record)
	Delete(id string)
}

// ProgressSink consumes job progress for presentation.
type ProgressSink interface {
	JobProgress(s protocol.JobSummary)
	JobFinished(s protocol.JobSummary)
	JobCancelled(s protocol.JobSummary)
}

// Deps are the collaborators a job talks to. All of them may be nil in
// tests; the job guards each call site.
type Deps struct {
	World    *world.World
	Gate     Authorizer
	Store    Checkpointer
	Load     LoadProvider
	Progress ProgressSink
	Logger   *log.Logger
}

// JobSpec carries the immutable identity of a job, either from a fresh
// placement or from a checkpoint record.
type JobSpec struct {
	ID              string
	OwnerID         string
	OwnerName       string
	WorldID         string
	TypeKey         string
	Size            int
	DurationSeconds int
	StartedAt       int64
	Anchor          world.Vec3i
	Origin          world.ChunkKey

	// Restored scan pointers; zero means start from the top.
	RegionIndex int
	Level       int
}

const (
	exitNone int32 = iota
	exitCompleted
	exitCancelled
	exitHalted
)

type regionTally struct {
	removed   int
	breakdown map[string]int
}

// Job walks an N by N square of chunk columns top-down, clearing every
// destructible block. It schedules itself on its own goroutine and
// never touches world state directly; batches go through the world's
// work queue and results come back on a channel.
type Job struct {
	spec    JobSpec
	regions []world.ChunkKey

	minLevel        int
	maxLevel        int // exclusive
	levelsPerRegion int64
	total           int64

	regionIndex atomic.Int64
	level       atomic.Int64
	processed   atomic.Int64
	cancelled   atomic.Bool
	exitMode    atomic.Int32

	cfgMu              sync.Mutex
	perf               tuning.Performance
	baseRegionsPerTick int
	baseLevelsPerBatch int
	regionsPerTick     int
	levelsPerBatch     int
	loadTicks          int

	est      *Estimator
	interval time.Duration

	deps   Deps
	onExit func(id string)

	// Owned by the run goroutine.
	results     chan []world.BatchResult
	outstanding int
	tallies     map[world.ChunkKey]*regionTally

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newJob(spec JobSpec, perf tuning.Performance, deps Deps, onExit func(string)) *Job {
	j := &Job{
		spec:    spec,
		regions: regionList(spec.Origin, spec.Size),
		perf:    perf,
		deps:    deps,
		onExit:  onExit,
		results: make(chan []world.BatchResult, 16),
		tallies: map[world.ChunkKey]*regionTally{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	return j
}

// regionList is the fixed scan order: row-major across the square
// centered on the origin chunk.
func regionList(origin world.ChunkKey, size int) []world.ChunkKey {
	if size < 1 {
		size = 1
	}
	half := size / 2
	out := make([]world.ChunkKey, 0, size*size)
	for dz := 0; dz < size; dz++ {
		for dx := 0; dx < size; dx++ {
			out = append(out, world.ChunkKey{
				CX: origin.CX + dx - half,
				CZ: origin.CZ + dz - half,
			})
		}
	}
	return out
}

// Start resolves world bounds, restores pointers and begins the
// scheduling loop. A missing world is fatal: the job cancels itself.
func (j *Job) Start() {
	if !j.prepare() {
		return
	}
	j.launch()
}

// launch begins the scheduling loop. prepare must have succeeded.
func (j *Job) launch() {
	go func() {
		j.run()
		close(j.done)
	}()
}

func (j *Job) prepare() bool {
	w := j.deps.World
	if w == nil {
		j.warnf("job %s: world %q unavailable, cancelling", j.spec.ID, j.spec.WorldID)
		j.exitMode.CompareAndSwap(exitNone, exitCancelled)
		j.cancelled.Store(true)
		j.teardown()
		close(j.done)
		return false
	}

	j.minLevel = w.MinLevel()
	j.maxLevel = w.MaxLevel()
	j.levelsPerRegion = int64(j.maxLevel - j.minLevel)
	j.total = int64(len(j.regions)) * j.levelsPerRegion

	idx := j.spec.RegionIndex
	if idx < 0 {
		idx = 0
	}
	if idx > len(j.regions) {
		idx = len(j.regions)
	}
	lvl := j.spec.Level
	// Zero is the unset sentinel in a checkpoint: rescan from the top.
	if lvl == 0 || lvl >= j.maxLevel {
		lvl = j.maxLevel - 1
	}
	if lvl < j.minLevel {
		lvl = j.minLevel
	}
	j.regionIndex.Store(int64(idx))
	j.level.Store(int64(lvl))
	j.processed.Store(int64(idx)*j.levelsPerRegion + int64(j.maxLevel-1-lvl))

	j.cfgMu.Lock()
	j.rebaseLocked()
	window := time.Duration(j.perf.ETAWindowSeconds) * time.Second
	j.cfgMu.Unlock()
	j.est = NewEstimator(window, time.Duration(j.spec.DurationSeconds)*time.Second)
	j.interval = j.cadence(w.TickRateHz())
	return true
}

// rebaseLocked recomputes the baseline knobs from configuration,
// scaled up for large extents, and resets the live knobs to them.
func (j *Job) rebaseLocked() {
	rpt := j.perf.MaxRegionsPerTick
	lpb := j.perf.LevelsPerBatch
	if j.perf.SizeScaleEnabled && j.spec.Size > 1 {
		scale := j.spec.Size * j.perf.SizeScaleMultiplier
		if scale > j.perf.SizeScaleCap {
			scale = j.perf.SizeScaleCap
		}
		if scale > 1 {
			rpt *= scale
			lpb *= scale
		}
	}
	if rpt < 1 {
		rpt = 1
	}
	if lpb < 1 {
		lpb = 1
	}
	j.baseRegionsPerTick = rpt
	j.baseLevelsPerBatch = lpb
	j.regionsPerTick = rpt
	j.levelsPerBatch = lpb
}

// cadence spreads the nominal duration across the region count, capped
// by the configured ceiling. Large extents tick faster.
func (j *Job) cadence(tickRate int) time.Duration {
	if tickRate <= 0 {
		tickRate = 20
	}
	ticks := int(math.Round(float64(j.spec.DurationSeconds) / float64(len(j.regions)) * float64(tickRate)))
	if ticks > j.perf.TickIntervalTicks {
		ticks = j.perf.TickIntervalTicks
	}
	if j.spec.Size > 1 && j.perf.AggressiveIntervalDivisor > 1 {
		div := j.perf.AggressiveIntervalDivisor
		if div > j.spec.Size {
			div = j.spec.Size
		}
		ticks /= div
	}
	if ticks < 1 {
		ticks = 1
	}
	return time.Duration(ticks) * (time.Second / time.Duration(tickRate))
}

func (j *Job) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			j.teardown()
			return
		case res := <-j.results:
			j.applyResults(res)
		case <-ticker.C:
			j.tick()
		}
	}
}

// tick is one scheduling step: adapt knobs, build up to regionsPerTick
// batches, hand them to the world as one group. Pointers are committed
// only once the group is accepted, so a full work queue just retries
// the same span next tick.
func (j *Job) tick() {
	if j.cancelled.Load() {
		return
	}
	j.adapt()

	idx := int(j.regionIndex.Load())
	lvl := int(j.level.Load())
	if idx >= len(j.regions) {
		j.maybeFinish()
		return
	}

	j.cfgMu.Lock()
	rpt := j.regionsPerTick
	lpb := j.levelsPerBatch
	j.cfgMu.Unlock()

	var batches []world.ClearBatch
	for i := 0; i < rpt && idx < len(j.regions); i++ {
		key := j.regions[idx]
		start := lvl
		end := start - lpb + 1
		if end < j.minLevel {
			end = j.minLevel
		}
		if !j.mayEdit(key, start) {
			idx++
			lvl = j.maxLevel - 1
			continue
		}
		batches = append(batches, world.ClearBatch{Chunk: key, StartLevel: start, EndLevel: end})
		lvl = end - 1
		if lvl < j.minLevel {
			idx++
			lvl = j.maxLevel - 1
		}
	}

	if len(batches) > 0 {
		ok := j.deps.World.EnqueueWork(world.WorkGroup{
			JobID:   j.spec.ID,
			Owner:   j.spec.OwnerID,
			Batches: batches,
			Results: j.results,
		})
		if !ok {
			j.warnf("job %s: work queue full, retrying next tick", j.spec.ID)
			return
		}
		j.outstanding++
	}

	j.regionIndex.Store(int64(idx))
	j.level.Store(int64(lvl))
	if idx >= len(j.regions) {
		j.maybeFinish()
	}
}

func (j *Job) mayEdit(key world.ChunkKey, level int) bool {
	if j.deps.Gate == nil {
		return true
	}
	return j.deps.Gate.MayEditRegionOnBehalfOf(j.spec.OwnerID, key.Center(level))
}

// adapt re-samples the load signal every LoadCheckIntervalTicks job
// ticks. Below the threshold the knobs shrink by a smoothed factor,
// floored at the configured minimums; above it they snap back to
// baseline.
func (j *Job) adapt() {
	j.cfgMu.Lock()
	defer j.cfgMu.Unlock()

	j.loadTicks++
	if j.loadTicks < j.perf.LoadCheckIntervalTicks {
		return
	}
	j.loadTicks = 0

	signal := 1.0
	if j.deps.Load != nil {
		signal = j.deps.Load.Capacity()
	}
	if signal >= j.perf.LoadThreshold {
		j.regionsPerTick = j.baseRegionsPerTick
		j.levelsPerBatch = j.baseLevelsPerBatch
		return
	}

	smoothed := j.perf.LoadSmoothing*signal + (1-j.perf.LoadSmoothing)*1.0
	rpt := int(float64(j.baseRegionsPerTick) * smoothed)
	lpb := int(float64(j.baseLevelsPerBatch) * smoothed)
	if rpt < j.perf.MinRegionsPerTick {
		rpt = j.perf.MinRegionsPerTick
	}
	if lpb < j.perf.MinLevelsPerBatch {
		lpb = j.perf.MinLevelsPerBatch
	}
	j.regionsPerTick = rpt
	j.levelsPerBatch = lpb
}

// applyResults folds one completed work group back into the job:
// throughput accounting, per-region tallies, and on region completion
// the audit summary plus an incremental checkpoint.
func (j *Job) applyResults(results []world.BatchResult) {
	if j.outstanding > 0 {
		j.outstanding--
	}

	var units int64
	for _, r := range results {
		units += int64(r.LevelsSwept)

		t := j.tallies[r.Chunk]
		if t == nil {
			t = &regionTally{breakdown: map[string]int{}}
			j.tallies[r.Chunk] = t
		}
		t.removed += r.Removed
		for name, n := range r.Breakdown {
			t.breakdown[name] += n
		}

		if r.ChunkDone {
			if j.deps.Gate != nil {
				j.deps.Gate.EnqueueAudit(protect.SummaryEntry{
					At:        time.Now().Unix(),
					Actor:     j.spec.OwnerID,
					World:     j.spec.WorldID,
					Pos:       r.Chunk.Center(j.minLevel).ToArray(),
					Removed:   t.removed,
					Breakdown: t.breakdown,
				})
			}
			delete(j.tallies, r.Chunk)
			if j.deps.Store != nil {
				j.deps.Store.SaveIncremental(j.Record())
			}
		}
	}

	if units > 0 {
		j.processed.Add(units)
		j.est.Observe(units)
	}
	if j.deps.Progress != nil {
		j.deps.Progress.JobProgress(j.Summary())
	}
	j.maybeFinish()
}

func (j *Job) maybeFinish() {
	if j.cancelled.Load() {
		return
	}
	if int(j.regionIndex.Load()) < len(j.regions) || j.outstanding != 0 {
		return
	}
	if !j.exitMode.CompareAndSwap(exitNone, exitCompleted) {
		return
	}
	j.cancelled.Store(true)
	j.closeStop()
}

// Cancel stops the job and discards its checkpoint record. Idempotent;
// safe from any goroutine.
func (j *Job) Cancel() {
	if !j.exitMode.CompareAndSwap(exitNone, exitCancelled) {
		return
	}
	j.cancelled.Store(true)
	j.closeStop()
}

// halt stops the scheduling loop at process teardown while leaving the
// checkpoint record in place for the next boot.
func (j *Job) halt() {
	if !j.exitMode.CompareAndSwap(exitNone, exitHalted) {
		return
	}
	j.cancelled.Store(true)
	j.closeStop()
}

func (j *Job) closeStop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

func (j *Job) teardown() {
	mode := j.exitMode.Load()
	switch mode {
	case exitCompleted:
		if j.deps.Store != nil {
			j.deps.Store.Delete(j.spec.ID)
		}
		j.notifyOwnerDone()
		if j.deps.Progress != nil {
			j.deps.Progress.JobFinished(j.Summary())
		}
	case exitCancelled:
		if j.deps.Store != nil {
			j.deps.Store.Delete(j.spec.ID)
		}
		if j.deps.Progress != nil {
			j.deps.Progress.JobCancelled(j.Summary())
		}
	case exitHalted:
		// Record stays for restore.
	}
	if j.onExit != nil {
		j.onExit(j.spec.ID)
	}
}

// notifyOwnerDone pushes a completion notice straight to the owner's
// session, when one is attached. Cancellations stay silent.
func (j *Job) notifyOwnerDone() {
	w := j.deps.World
	if w == nil || j.spec.OwnerID == "" || !w.Reachable(j.spec.OwnerID) {
		return
	}
	msg := protocol.JobDoneMsg{
		Type:            protocol.TypeJobDone,
		ProtocolVersion: protocol.Version,
		JobID:           j.spec.ID,
		OwnerName:       j.spec.OwnerName,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	w.Notify(j.spec.OwnerID, b)
}

// ConfigChanged installs a new configuration snapshot: baselines are
// recomputed and the live knobs reset, pointers and accounting are
// untouched. The presentation output refreshes immediately.
func (j *Job) ConfigChanged(perf tuning.Performance) {
	j.cfgMu.Lock()
	j.perf = perf
	j.rebaseLocked()
	j.cfgMu.Unlock()
	if j.est != nil {
		j.est.SetWindow(time.Duration(perf.ETAWindowSeconds) * time.Second)
	}
	if j.deps.Progress != nil {
		j.deps.Progress.JobProgress(j.Summary())
	}
}

// Done is closed once the scheduling loop has fully exited.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) ID() string        { return j.spec.ID }
func (j *Job) OwnerID() string   { return j.spec.OwnerID }
func (j *Job) OwnerName() string { return j.spec.OwnerName }
func (j *Job) WorldID() string   { return j.spec.WorldID }
func (j *Job) Origin() world.ChunkKey {
	return j.spec.Origin
}
func (j *Job) StartedAt() int64 { return j.spec.StartedAt }

func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// Completed reports natural completion, as opposed to cancellation.
func (j *Job) Completed() bool { return j.exitMode.Load() == exitCompleted }

func (j *Job) Processed() int64  { return j.processed.Load() }
func (j *Job) Total() int64      { return j.total }
func (j *Job) RegionIndex() int  { return int(j.regionIndex.Load()) }
func (j *Job) CurrentLevel() int { return int(j.level.Load()) }
func (j *Job) RegionCount() int  { return len(j.regions) }

func (j *Job) knobs() (regionsPerTick, levelsPerBatch int) {
	j.cfgMu.Lock()
	defer j.cfgMu.Unlock()
	return j.regionsPerTick, j.levelsPerBatch
}

// Record is the durable projection of this job.
func (j *Job) Record() checkpoint.Record {
	return checkpoint.Record{
		ID:              j.spec.ID,
		OwnerID:         j.spec.OwnerID,
		OwnerName:       j.spec.OwnerName,
		ChunkX:          j.spec.Origin.CX,
		ChunkZ:          j.spec.Origin.CZ,
		World:           j.spec.WorldID,
		TypeKey:         j.spec.TypeKey,
		Size:            j.spec.Size,
		DurationSeconds: j.spec.DurationSeconds,
		StartedAt:       j.spec.StartedAt,
		PlacedX:         j.spec.Anchor.X,
		PlacedY:         j.spec.Anchor.Y,
		PlacedZ:         j.spec.Anchor.Z,
		RegionIndex:     int(j.regionIndex.Load()),
		Level:           int(j.level.Load()),
	}
}

// Summary is the read-only projection served to clients.
func (j *Job) Summary() protocol.JobSummary {
	processed := j.processed.Load()
	total := j.total
	var percent float64
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
		if percent > 100 {
			percent = 100
		}
	}
	var eta int64
	if j.est != nil {
		eta = j.est.ETA(processed, total)
	}
	return protocol.JobSummary{
		ID:           j.spec.ID,
		OwnerID:      j.spec.OwnerID,
		OwnerName:    j.spec.OwnerName,
		World:        j.spec.WorldID,
		ChunkX:       j.spec.Origin.CX,
		ChunkZ:       j.spec.Origin.CZ,
		TypeKey:      j.spec.TypeKey,
		Percent:      percent,
		ETASeconds:   eta,
		RegionIndex:  int(j.regionIndex.Load()),
		CurrentLevel: int(j.level.Load()),
		StartedAt:    j.spec.StartedAt,
	}
}

func (j *Job) warnf(format string, args ...any) {
	if j.deps.Logger != nil {
		j.deps.Logger.Printf(format, args...)
	}
}
