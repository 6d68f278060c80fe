package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"voxelsweep.dev/internal/persistence/checkpoint"
)

// admin inspects and prunes the checkpoint database while the server
// is down. Usage:
//
//	admin -data ./data list
//	admin -data ./data delete <job-id>
func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		dbFile  = flag.String("db", "cleaners.db", "checkpoint db file name")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[admin] ", log.LstdFlags)
	store, err := checkpoint.Open(filepath.Join(*dataDir, *dbFile), logger)
	if err != nil {
		logger.Fatalf("open: %v", err)
	}
	defer store.Close()

	switch flag.Arg(0) {
	case "", "list":
		recs := store.LoadAll()
		if len(recs) == 0 {
			fmt.Println("no checkpointed jobs")
			return
		}
		for _, r := range recs {
			started := time.Unix(r.StartedAt, 0).UTC().Format(time.RFC3339)
			fmt.Printf("%s owner=%s world=%s type=%s chunk=(%d,%d) size=%d region=%d level=%d started=%s\n",
				r.ID, r.OwnerName, r.World, r.TypeKey, r.ChunkX, r.ChunkZ, r.Size, r.RegionIndex, r.Level, started)
		}
	case "delete":
		id := flag.Arg(1)
		if id == "" {
			logger.Fatalf("delete: missing job id")
		}
		store.Delete(id)
		fmt.Println("deleted", id)
	default:
		logger.Fatalf("unknown command %q (want list or delete)", flag.Arg(0))
	}
}
