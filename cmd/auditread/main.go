package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelsweep.dev/internal/protect"
)

// auditread decompresses the rotated audit files and prints one line
// per flushed chunk summary, optionally filtered by actor.
func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		actor   = flag.String("actor", "", "only entries by this actor id")
		since   = flag.Int64("since", 0, "only entries at or after this unix timestamp")
	)
	flag.Parse()

	files, err := listAuditFiles(filepath.Join(*dataDir, "audit"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list audit files:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no audit files found")
		os.Exit(1)
	}

	var total, blocks int
	for _, path := range files {
		n, b, err := dumpFile(path, *actor, *since)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		total += n
		blocks += b
	}
	fmt.Printf("%d entries, %d blocks removed\n", total, blocks)
}

func listAuditFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "sweep-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func dumpFile(path, actor string, since int64) (entries, blocks int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, 0, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var e protect.SummaryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return entries, blocks, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if actor != "" && e.Actor != actor {
			continue
		}
		if since != 0 && e.At < since {
			continue
		}
		entries++
		blocks += e.Removed

		at := time.Unix(e.At, 0).UTC().Format(time.RFC3339)
		fmt.Printf("%s actor=%s world=%s pos=(%d,%d,%d) removed=%d", at, e.Actor, e.World, e.Pos[0], e.Pos[1], e.Pos[2], e.Removed)
		if len(e.Breakdown) > 0 {
			names := make([]string, 0, len(e.Breakdown))
			for n := range e.Breakdown {
				names = append(names, n)
			}
			sort.Strings(names)
			parts := make([]string, 0, len(names))
			for _, n := range names {
				parts = append(parts, fmt.Sprintf("%s:%d", n, e.Breakdown[n]))
			}
			fmt.Printf(" [%s]", strings.Join(parts, " "))
		}
		fmt.Println()
	}
	return entries, blocks, sc.Err()
}
