package world

import "testing"

func TestChunkOfNegativeCoordinates(t *testing.T) {
	cases := []struct {
		x, z   int
		cx, cz int
	}{
		{0, 0, 0, 0},
		{15, 15, 0, 0},
		{16, 16, 1, 1},
		{-1, -1, -1, -1},
		{-16, -16, -1, -1},
		{-17, -17, -2, -2},
	}
	for _, c := range cases {
		got := ChunkOf(c.x, c.z)
		if got.CX != c.cx || got.CZ != c.cz {
			t.Fatalf("ChunkOf(%d,%d): got (%d,%d) want (%d,%d)", c.x, c.z, got.CX, got.CZ, c.cx, c.cz)
		}
	}
}

func TestChunkCenter(t *testing.T) {
	got := ChunkKey{CX: -2, CZ: 3}.Center(64)
	want := Vec3i{X: -24, Y: 64, Z: 56}
	if got != want {
		t.Fatalf("center: got %+v want %+v", got, want)
	}
}

func TestChunkGenerationIsDeterministic(t *testing.T) {
	gen := WorldGen{Seed: 42, MinY: -8, MaxY: 96}
	a := NewChunkStore(gen).Chunk(ChunkKey{CX: 1, CZ: -3})
	b := NewChunkStore(gen).Chunk(ChunkKey{CX: 1, CZ: -3})
	for i := range a.Blocks {
		if a.Blocks[i] != b.Blocks[i] {
			t.Fatalf("block %d differs: %d vs %d", i, a.Blocks[i], b.Blocks[i])
		}
	}
	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			if got := a.Get(x, gen.MinY, z); got != Bedrock {
				t.Fatalf("floor at (%d,%d): got %s want %s", x, z, BlockName(got), BlockName(Bedrock))
			}
		}
	}
}

func TestGetSetOutOfRangeIsNoop(t *testing.T) {
	s := NewChunkStore(WorldGen{Seed: 1, MinY: 0, MaxY: 16})
	ch := s.Chunk(ChunkKey{})
	if got := ch.Get(0, 99, 0); got != Air {
		t.Fatalf("above world: got %s want air", BlockName(got))
	}
	ch.Set(0, 99, 0, Stone)
	if got := ch.Get(0, 99, 0); got != Air {
		t.Fatalf("set above world stuck: got %s", BlockName(got))
	}
}

func newTestWorld(minY, maxY int) *World {
	return New(WorldConfig{
		ID:         "world_1",
		TickRateHz: 20,
		MinLevel:   minY,
		MaxLevel:   maxY,
		Seed:       7,
	}, nil)
}

func runOneBatch(t *testing.T, w *World, b ClearBatch) BatchResult {
	t.Helper()
	results := make(chan []BatchResult, 1)
	if !w.EnqueueWork(WorkGroup{JobID: "t", Owner: "P1", Batches: []ClearBatch{b}, Results: results}) {
		t.Fatalf("enqueue failed")
	}
	w.StepOnce()
	res := <-results
	if len(res) != 1 {
		t.Fatalf("results: got %d want 1", len(res))
	}
	return res[0]
}

func TestClearBatchSweepsAndIsIdempotent(t *testing.T) {
	w := newTestWorld(0, 16)
	key := ChunkKey{CX: 2, CZ: 2}

	first := runOneBatch(t, w, ClearBatch{Chunk: key, StartLevel: 15, EndLevel: 0})
	if first.LevelsSwept != 16 {
		t.Fatalf("levels swept: got %d want 16", first.LevelsSwept)
	}
	if first.Removed <= 0 {
		t.Fatalf("expected generated terrain to be cleared, removed=0")
	}
	if !first.ChunkDone {
		t.Fatalf("reaching the floor should complete the chunk")
	}
	var breakdownTotal int
	for _, n := range first.Breakdown {
		breakdownTotal += n
	}
	if breakdownTotal != first.Removed {
		t.Fatalf("breakdown sums to %d, removed %d", breakdownTotal, first.Removed)
	}
	if _, ok := first.Breakdown[BlockName(Bedrock)]; ok {
		t.Fatalf("bedrock must never be cleared")
	}

	second := runOneBatch(t, w, ClearBatch{Chunk: key, StartLevel: 15, EndLevel: 0})
	if second.Removed != 0 {
		t.Fatalf("second sweep removed %d blocks", second.Removed)
	}
}

func TestClearBatchClampsSpanToWorld(t *testing.T) {
	w := newTestWorld(0, 16)
	res := runOneBatch(t, w, ClearBatch{Chunk: ChunkKey{CX: 5, CZ: 5}, StartLevel: 200, EndLevel: -50})
	if res.LevelsSwept != 16 {
		t.Fatalf("clamped sweep: got %d levels want 16", res.LevelsSwept)
	}
	if !res.ChunkDone {
		t.Fatalf("clamped sweep should still reach the floor")
	}
}

func TestChunkDoneRemovesOccupants(t *testing.T) {
	w := newTestWorld(0, 16)
	key := ChunkKey{CX: 0, CZ: 0}
	w.SpawnItemEntity(Vec3i{X: 4, Y: 8, Z: 4}, "stone", 32)
	w.SpawnItemEntity(Vec3i{X: 9, Y: 8, Z: 9}, "dirt", 5)
	// Neighboring chunk occupants stay.
	w.SpawnItemEntity(Vec3i{X: 20, Y: 8, Z: 4}, "sand", 1)

	res := runOneBatch(t, w, ClearBatch{Chunk: key, StartLevel: 15, EndLevel: 0})
	if res.OccupantsRemoved != 2 {
		t.Fatalf("occupants removed: got %d want 2", res.OccupantsRemoved)
	}

	partial := runOneBatch(t, w, ClearBatch{Chunk: ChunkKey{CX: 1, CZ: 0}, StartLevel: 15, EndLevel: 8})
	if partial.ChunkDone || partial.OccupantsRemoved != 0 {
		t.Fatalf("partial sweep: done=%v occupants=%d", partial.ChunkDone, partial.OccupantsRemoved)
	}
}

func TestWorkQueueRejectsWhenFull(t *testing.T) {
	w := newTestWorld(0, 16)
	g := WorkGroup{JobID: "t", Owner: "P1"}
	queued := 0
	for w.EnqueueWork(g) {
		queued++
		if queued > 100000 {
			t.Fatalf("queue never filled")
		}
	}
	if queued == 0 {
		t.Fatalf("no groups accepted")
	}
}

func TestCapacityObservation(t *testing.T) {
	w := newTestWorld(0, 16)
	if got := w.Capacity(); got != 1.0 {
		t.Fatalf("initial capacity: got %v want 1.0", got)
	}
	// A saturated step drags the smoothed signal down.
	for i := 0; i < 50; i++ {
		w.observeStep(100, 50)
	}
	if got := w.Capacity(); got > 0.01 {
		t.Fatalf("capacity under saturation: got %v want ~0", got)
	}
}

func TestSessionsReachableAndNotify(t *testing.T) {
	w := newTestWorld(0, 16)
	out := make(chan []byte, 1)
	w.handleJoin(JoinRequest{OwnerID: "P1", Name: "alex", Out: out})

	if !w.Reachable("P1") {
		t.Fatalf("joined owner not reachable")
	}
	if w.Reachable("P2") {
		t.Fatalf("unknown owner reachable")
	}

	w.Notify("P1", []byte("a"))
	w.Notify("P1", []byte("b")) // full outbox drops the oldest
	if got := string(<-out); got != "b" {
		t.Fatalf("notify: got %q want %q", got, "b")
	}

	w.handleLeave("P1")
	if w.Reachable("P1") {
		t.Fatalf("left owner still reachable")
	}
}

func TestClaimIndexAllowsBreak(t *testing.T) {
	idx := NewClaimIndex()
	id := idx.Add(&LandClaim{
		Owner:   "P1",
		Anchor:  Vec3i{X: 0, Y: 64, Z: 0},
		Radius:  16,
		Members: map[string]bool{"P3": true},
	})
	idx.Add(&LandClaim{
		Owner:      "P9",
		Anchor:     Vec3i{X: 100, Y: 64, Z: 100},
		Radius:     8,
		AllowBreak: true,
	})

	inside := Vec3i{X: 4, Y: 64, Z: 4}
	if idx.AllowsBreak("P2", inside) {
		t.Fatalf("stranger allowed inside claim")
	}
	if !idx.AllowsBreak("P1", inside) {
		t.Fatalf("owner denied inside own claim")
	}
	if !idx.AllowsBreak("P3", inside) {
		t.Fatalf("member denied inside claim")
	}
	if !idx.AllowsBreak("P2", Vec3i{X: 100, Y: 64, Z: 100}) {
		t.Fatalf("open claim should allow anyone")
	}
	if !idx.AllowsBreak("P2", Vec3i{X: 999, Y: 64, Z: 999}) {
		t.Fatalf("unclaimed ground should allow anyone")
	}

	idx.Remove(id)
	if !idx.AllowsBreak("P2", inside) {
		t.Fatalf("removed claim still denies")
	}
}
