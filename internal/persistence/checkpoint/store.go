package checkpoint

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is the durable projection of one job: identity plus scan
// pointers. It outlives the job object and is enough to rebuild it.
type Record struct {
	ID              string
	OwnerID         string
	OwnerName       string
	ChunkX          int
	ChunkZ          int
	World           string
	TypeKey         string
	Size            int
	DurationSeconds int
	StartedAt       int64
	PlacedX         int
	PlacedY         int
	PlacedZ         int

	RegionIndex int
	Level       int
}

// Store persists records in a single sqlite table. Writes from a
// job's region-completion path and the autosave path are serialized
// behind one mutex; write failures are logged, never surfaced to the
// job.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	mu sync.Mutex
}

func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps incremental saves cheap alongside autosave rewrites.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS cleaners (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	owner_name   TEXT NOT NULL,
	chunk_x      INTEGER NOT NULL,
	chunk_z      INTEGER NOT NULL,
	world        TEXT NOT NULL,
	type         TEXT NOT NULL,
	size         INTEGER NOT NULL,
	duration_s   INTEGER NOT NULL,
	started_at   INTEGER NOT NULL,
	placed_x     INTEGER NOT NULL DEFAULT 0,
	placed_y     INTEGER NOT NULL DEFAULT 0,
	placed_z     INTEGER NOT NULL DEFAULT 0,
	region_index INTEGER NOT NULL DEFAULT 0,
	level        INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

const upsertSQL = `
INSERT INTO cleaners
	(id, owner_id, owner_name, chunk_x, chunk_z, world, type, size,
	 duration_s, started_at, placed_x, placed_y, placed_z,
	 region_index, level, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	owner_id=excluded.owner_id, owner_name=excluded.owner_name,
	chunk_x=excluded.chunk_x, chunk_z=excluded.chunk_z,
	world=excluded.world, type=excluded.type, size=excluded.size,
	duration_s=excluded.duration_s, started_at=excluded.started_at,
	placed_x=excluded.placed_x, placed_y=excluded.placed_y,
	placed_z=excluded.placed_z, region_index=excluded.region_index,
	level=excluded.level, updated_at=excluded.updated_at;`

// SaveAll replaces the whole snapshot with one record per live job.
func (s *Store) SaveAll(recs []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		s.warnf("checkpoint save: begin: %v", err)
		return
	}
	if _, err := tx.Exec(`DELETE FROM cleaners;`); err != nil {
		s.warnf("checkpoint save: clear: %v", err)
		_ = tx.Rollback()
		return
	}
	now := time.Now().Unix()
	for _, r := range recs {
		if _, err := tx.Exec(upsertSQL, args(r, now)...); err != nil {
			s.warnf("checkpoint save %s: %v", r.ID, err)
			_ = tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.warnf("checkpoint save: commit: %v", err)
	}
}

// SaveIncremental upserts one job's base fields and pointers.
func (s *Store) SaveIncremental(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(upsertSQL, args(r, time.Now().Unix())...); err != nil {
		s.warnf("checkpoint save %s: %v", r.ID, err)
	}
}

// Delete removes one record; used when a job finishes or is cancelled.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM cleaners WHERE id = ?;`, id); err != nil {
		s.warnf("checkpoint delete %s: %v", id, err)
	}
}

// LoadAll returns every parsable record. A malformed row is skipped
// with a warning and never aborts the load.
func (s *Store) LoadAll() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
SELECT id, owner_id, owner_name, chunk_x, chunk_z, world, type, size,
       duration_s, started_at, placed_x, placed_y, placed_z,
       region_index, level
FROM cleaners ORDER BY started_at ASC;`)
	if err != nil {
		s.warnf("checkpoint load: %v", err)
		return nil
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.OwnerName, &r.ChunkX, &r.ChunkZ,
			&r.World, &r.TypeKey, &r.Size, &r.DurationSeconds, &r.StartedAt,
			&r.PlacedX, &r.PlacedY, &r.PlacedZ, &r.RegionIndex, &r.Level); err != nil {
			s.warnf("checkpoint load: bad row: %v", err)
			continue
		}
		if err := validate(r); err != nil {
			s.warnf("checkpoint load: skipping %q: %v", r.ID, err)
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		s.warnf("checkpoint load: %v", err)
	}
	return out
}

func validate(r Record) error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("unparsable id: %w", err)
	}
	if r.World == "" {
		return fmt.Errorf("missing world")
	}
	if r.TypeKey == "" {
		return fmt.Errorf("missing type")
	}
	return nil
}

func args(r Record, now int64) []any {
	return []any{
		r.ID, r.OwnerID, r.OwnerName, r.ChunkX, r.ChunkZ, r.World, r.TypeKey,
		r.Size, r.DurationSeconds, r.StartedAt, r.PlacedX, r.PlacedY, r.PlacedZ,
		r.RegionIndex, r.Level, now,
	}
}

func (s *Store) warnf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
