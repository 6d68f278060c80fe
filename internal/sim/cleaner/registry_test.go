package cleaner

import (
	"errors"
	"sync"
	"testing"

	"voxelsweep.dev/internal/persistence/checkpoint"
	"voxelsweep.dev/internal/sim/tuning"
	"voxelsweep.dev/internal/sim/world"
)

func testConfig() tuning.Tuning {
	cfg := tuning.Defaults()
	cfg.PreventDuplicateRegion = true
	cfg.Types = map[string]tuning.CleanerType{
		"basic": {DisplayName: "Basic", Size: 1, Block: "LODESTONE", DurationSeconds: 10},
		"wide":  {DisplayName: "Wide", Size: 3, Block: "BEACON", DurationSeconds: 60},
	}
	return cfg
}

func testRegistry(t *testing.T) (*Registry, *world.World) {
	t.Helper()
	w := testWorld(t, 0, 16)
	resolver := func(id string) *world.World {
		if id == w.ID() {
			return w
		}
		return nil
	}
	reg := NewRegistry(testConfig(), resolver, nil, nil, nil, nil, nil)
	t.Cleanup(reg.ShutdownAll)
	return reg, w
}

func TestRegistry_CreateRejectsUnknownTypeAndWorld(t *testing.T) {
	reg, _ := testRegistry(t)

	if _, err := reg.Create("P1", "alex", "world_1", "nope", world.Vec3i{}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("unknown type: got %v want ErrUnknownType", err)
	}
	if _, err := reg.Create("P1", "alex", "nether", "basic", world.Vec3i{}); !errors.Is(err, ErrWorldNotFound) {
		t.Fatalf("unknown world: got %v want ErrWorldNotFound", err)
	}
}

func TestRegistry_DuplicateRegionRejected(t *testing.T) {
	reg, _ := testRegistry(t)

	if _, err := reg.Create("P1", "alex", "world_1", "basic", world.Vec3i{X: 5, Y: 8, Z: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Same chunk, different block.
	if _, err := reg.Create("P2", "blair", "world_1", "basic", world.Vec3i{X: 12, Y: 8, Z: 12}); !errors.Is(err, ErrDuplicateRegion) {
		t.Fatalf("duplicate region: got %v want ErrDuplicateRegion", err)
	}
	// Next chunk over is fine.
	if _, err := reg.Create("P2", "blair", "world_1", "basic", world.Vec3i{X: 20, Y: 8, Z: 5}); err != nil {
		t.Fatalf("adjacent region: %v", err)
	}
}

func TestRegistry_CancelNearAndByName(t *testing.T) {
	reg, _ := testRegistry(t)

	j, err := reg.Create("P1", "Alex", "world_1", "basic", world.Vec3i{X: 5, Y: 8, Z: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if reg.CancelNear("P2", "world_1", 5, 5) {
		t.Fatalf("cancel near matched wrong owner")
	}
	if reg.CancelNear("P1", "world_1", 400, 400) {
		t.Fatalf("cancel near matched wrong chunk")
	}
	if !reg.CancelNear("P1", "world_1", 9, 2) {
		t.Fatalf("cancel near missed the job")
	}
	if !j.Cancelled() {
		t.Fatalf("job not cancelled")
	}

	j2, err := reg.Create("P2", "Blair", "world_1", "basic", world.Vec3i{X: 40, Y: 8, Z: 40})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reg.CancelByOwnerName("nobody") {
		t.Fatalf("cancel by name matched nothing")
	}
	if !reg.CancelByOwnerName("blair") {
		t.Fatalf("cancel by name should be case-insensitive")
	}
	if !j2.Cancelled() {
		t.Fatalf("job not cancelled by name")
	}
}

func TestRegistry_ListPagesAndClamps(t *testing.T) {
	reg, _ := testRegistry(t)

	anchors := []world.Vec3i{{X: 0, Z: 0}, {X: 100, Z: 0}, {X: 200, Z: 0}}
	for i, a := range anchors {
		if _, err := reg.Create("P1", "alex", "world_1", "basic", a); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	jobs, page, maxPages := reg.List(1, 2)
	if page != 1 || maxPages != 2 || len(jobs) != 2 {
		t.Fatalf("page 1: got page=%d max=%d len=%d", page, maxPages, len(jobs))
	}
	jobs, page, _ = reg.List(99, 2)
	if page != 2 || len(jobs) != 1 {
		t.Fatalf("clamped page: got page=%d len=%d", page, len(jobs))
	}
	jobs, page, maxPages = reg.List(-5, 2)
	if page != 1 || maxPages != 2 || len(jobs) != 2 {
		t.Fatalf("underflow page: got page=%d max=%d len=%d", page, maxPages, len(jobs))
	}
}

func TestRegistry_RestoreSkipsDuplicateValidation(t *testing.T) {
	reg, _ := testRegistry(t)

	if _, err := reg.Create("P1", "alex", "world_1", "basic", world.Vec3i{X: 5, Y: 8, Z: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Same origin chunk restores anyway: persisted state is trusted.
	j := reg.Restore(checkpoint.Record{
		ID: "d0a6c1de-6a5d-4b9f-8a6e-1c2d3e4f5a6b", OwnerID: "P2", OwnerName: "blair",
		ChunkX: 0, ChunkZ: 0, World: "world_1", TypeKey: "basic", Size: 1,
		DurationSeconds: 10, StartedAt: 100, RegionIndex: 0, Level: 8,
	})
	if j.Cancelled() {
		t.Fatalf("restored job cancelled")
	}
	if j.CurrentLevel() != 8 {
		t.Fatalf("restored level: got %d want 8", j.CurrentLevel())
	}
	if reg.Count() != 2 {
		t.Fatalf("count: got %d want 2", reg.Count())
	}
}

func TestRegistry_RestoreWithMissingWorldSelfCancels(t *testing.T) {
	reg, _ := testRegistry(t)

	j := reg.Restore(checkpoint.Record{
		ID: "aaaaaaaa-0000-4000-8000-000000000000", OwnerID: "P1", OwnerName: "alex",
		World: "nether", TypeKey: "basic", Size: 1, DurationSeconds: 10,
	})
	if !j.Cancelled() {
		t.Fatalf("job with missing world should cancel")
	}
	if reg.Count() != 0 {
		t.Fatalf("count after self-cancel: got %d want 0", reg.Count())
	}
}

// Jobs must be fully initialized before they become visible to List;
// the status broadcast reads summaries concurrently with creation.
func TestRegistry_ListDuringCreateSeesInitializedJobs(t *testing.T) {
	reg, _ := testRegistry(t)
	cfg := testConfig()
	cfg.PreventDuplicateRegion = false
	reg.BroadcastConfigChanged(cfg)

	stop := make(chan struct{})
	bad := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			jobs, _, _ := reg.List(1, 50)
			for _, s := range jobs {
				if s.ID == "" || s.StartedAt == 0 || s.Percent < 0 || s.Percent > 100 {
					select {
					case bad <- s.ID:
					default:
					}
					return
				}
			}
		}
	}()

	for i := 0; i < 32; i++ {
		j, err := reg.Create("P1", "alex", "world_1", "basic", world.Vec3i{X: i * 16, Y: 8, Z: 0})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if j.Total() == 0 {
			t.Fatalf("create %d returned an uninitialized job", i)
		}
	}
	close(stop)
	wg.Wait()
	select {
	case id := <-bad:
		t.Fatalf("List observed a half-initialized job %q", id)
	default:
	}
}

func TestRegistry_RecordsSkipCancelled(t *testing.T) {
	reg, _ := testRegistry(t)

	if _, err := reg.Create("P1", "alex", "world_1", "basic", world.Vec3i{X: 5, Z: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	j2, err := reg.Create("P2", "blair", "world_1", "basic", world.Vec3i{X: 40, Z: 40})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	j2.Cancel()

	recs := reg.Records()
	if len(recs) != 1 {
		t.Fatalf("records: got %d want 1", len(recs))
	}
	if recs[0].OwnerName != "alex" {
		t.Fatalf("record owner: got %s want alex", recs[0].OwnerName)
	}
}

func TestRegistry_BroadcastConfigChanged(t *testing.T) {
	reg, _ := testRegistry(t)

	j, err := reg.Create("P1", "alex", "world_1", "basic", world.Vec3i{X: 5, Z: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cfg := testConfig()
	cfg.Performance.MaxRegionsPerTick = 7
	reg.BroadcastConfigChanged(cfg)

	rpt, _ := j.knobs()
	if rpt != 7 {
		t.Fatalf("regions per tick after broadcast: got %d want 7", rpt)
	}
}
