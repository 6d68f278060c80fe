package auditlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelsweep.dev/internal/protect"
)

// SummaryLogger writes flushed chunk summaries as compressed JSONL,
// one hour-rotated segment per file. It is the default audit sink.
type SummaryLogger struct {
	dir string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	buf     *bufio.Writer
}

func NewSummaryLogger(dataDir string) *SummaryLogger {
	return &SummaryLogger{dir: filepath.Join(dataDir, "audit")}
}

// SegmentPath names the segment a summary written in the given hour
// lands in (sweep-<hour>.jsonl.zst under the audit dir).
func (l *SummaryLogger) SegmentPath(hour string) string {
	return filepath.Join(l.dir, "sweep-"+hour+".jsonl.zst")
}

func (l *SummaryLogger) WriteSummary(e protect.SummaryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != l.curHour {
		if err := l.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.buf.Write(b); err != nil {
		return err
	}
	if err := l.buf.WriteByte('\n'); err != nil {
		return err
	}
	return l.buf.Flush()
}

func (l *SummaryLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *SummaryLogger) rotateLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.SegmentPath(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.buf = bufio.NewWriterSize(enc, 128*1024)
	l.curHour = hour
	return nil
}

func (l *SummaryLogger) closeLocked() error {
	var err error
	if l.buf != nil {
		_ = l.buf.Flush()
	}
	if l.enc != nil {
		err = l.enc.Close()
		l.enc = nil
	}
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.buf = nil
	return err
}
