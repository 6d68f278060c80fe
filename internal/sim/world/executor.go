package world

// ClearBatch sweeps one chunk from StartLevel down to EndLevel
// inclusive, clearing every block that is not air and not bedrock.
type ClearBatch struct {
	Chunk      ChunkKey
	StartLevel int
	EndLevel   int
}

type BatchResult struct {
	Chunk       ChunkKey
	LevelsSwept int
	Removed     int
	Breakdown   map[string]int

	// ChunkDone is set when the batch reached the world floor; the
	// chunk's transient occupants have been removed.
	ChunkDone        bool
	OccupantsRemoved int
}

// WorkGroup is one grouped unit of work handed to the mutation loop.
// Batches are executed in order; the result slice is delivered on
// Results without blocking the loop.
type WorkGroup struct {
	JobID   string
	Owner   string
	Batches []ClearBatch
	Results chan<- []BatchResult
}

// EnqueueWork hands a group to the mutation loop. It never blocks: a
// full queue rejects the group and the caller retries on a later tick.
func (w *World) EnqueueWork(g WorkGroup) bool {
	select {
	case w.work <- g:
		return true
	default:
		return false
	}
}

func (w *World) runWorkGroup(g WorkGroup) {
	results := make([]BatchResult, 0, len(g.Batches))
	for _, b := range g.Batches {
		res := w.runBatch(b)
		results = append(results, res)
	}
	if g.Results == nil {
		return
	}
	select {
	case g.Results <- results:
	default:
		// The job stopped draining; drop rather than stall the loop.
		if w.logger != nil {
			w.logger.Printf("world %s: dropped batch results for job %s", w.cfg.ID, g.JobID)
		}
	}
}

func (w *World) runBatch(b ClearBatch) (res BatchResult) {
	res.Chunk = b.Chunk
	res.Breakdown = map[string]int{}

	defer func() {
		// A panic in one batch must not take down the loop; whatever
		// partial progress was counted stands.
		if r := recover(); r != nil {
			if w.logger != nil {
				w.logger.Printf("world %s: batch %+v panicked: %v", w.cfg.ID, b, r)
			}
		}
	}()

	start := b.StartLevel
	end := b.EndLevel
	if start >= w.cfg.MaxLevel {
		start = w.cfg.MaxLevel - 1
	}
	if end < w.cfg.MinLevel {
		end = w.cfg.MinLevel
	}
	if start < end {
		return res
	}

	ch := w.chunks.Chunk(b.Chunk)
	for y := start; y >= end; y-- {
		for z := 0; z < 16; z++ {
			for x := 0; x < 16; x++ {
				blk := ch.Get(x, y, z)
				if blk == Air || blk == Bedrock {
					continue
				}
				res.Removed++
				res.Breakdown[BlockName(blk)]++
				ch.Set(x, y, z, Air)
			}
		}
	}
	res.LevelsSwept = start - end + 1

	if end <= w.cfg.MinLevel {
		res.ChunkDone = true
		res.OccupantsRemoved = w.removeChunkOccupants(b.Chunk)
	}
	return res
}
