package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	WorldID    string `yaml:"world_id"`
	TickRateHz int    `yaml:"tick_rate_hz"`
	Height     int    `yaml:"height"`
	MinLevel   int    `yaml:"min_level"`
	Seed       int64  `yaml:"seed"`
	BoundaryR  int    `yaml:"world_boundary_r"`

	Performance Performance `yaml:"performance"`
	Persistence Persistence `yaml:"persistence"`
	Audit       Audit       `yaml:"audit"`

	PreventDuplicateRegion bool `yaml:"prevent_duplicate_region"`

	Types map[string]CleanerType `yaml:"types"`
}

// Performance holds the scheduling and throttling knobs of a job.
type Performance struct {
	MaxRegionsPerTick int `yaml:"max_regions_per_tick"`
	LevelsPerBatch    int `yaml:"levels_per_batch"`

	SizeScaleEnabled    bool `yaml:"size_scale_enabled"`
	SizeScaleMultiplier int  `yaml:"size_scale_multiplier"`
	SizeScaleCap        int  `yaml:"size_scale_cap"`

	TickIntervalTicks         int `yaml:"tick_interval_ticks"`
	AggressiveIntervalDivisor int `yaml:"aggressive_interval_divisor"`

	LoadThreshold          float64 `yaml:"load_threshold"`
	MinRegionsPerTick      int     `yaml:"min_regions_per_tick"`
	MinLevelsPerBatch      int     `yaml:"min_levels_per_batch"`
	LoadSmoothing          float64 `yaml:"load_smoothing"`
	LoadCheckIntervalTicks int     `yaml:"load_check_interval_ticks"`

	ETAWindowSeconds int `yaml:"eta_window_seconds"`
}

type Persistence struct {
	File                    string `yaml:"file"`
	AutosaveEnabled         bool   `yaml:"autosave_enabled"`
	AutosaveIntervalSeconds int    `yaml:"autosave_interval_seconds"`
	SaveOnShutdown          bool   `yaml:"save_on_shutdown"`
}

type Audit struct {
	FlushIntervalTicks int `yaml:"flush_interval_ticks"`
	MaxEntriesPerFlush int `yaml:"max_entries_per_flush"`
	QueueMaxSize       int `yaml:"queue_max_size"`
	QueueTrimTo        int `yaml:"queue_trim_to"`
}

// CleanerType is one configured cleaner marker variant.
type CleanerType struct {
	DisplayName     string `yaml:"display_name"`
	Description     string `yaml:"description"`
	Size            int    `yaml:"size"`
	Block           string `yaml:"block"`
	DurationSeconds int    `yaml:"duration"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	return t, nil
}

func Defaults() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func (t *Tuning) applyDefaults() {
	if t.WorldID == "" {
		t.WorldID = "world_1"
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.Height <= 0 {
		t.Height = 384
	}
	// The world floor never sits below the bedrock shelf.
	if t.MinLevel < -63 {
		t.MinLevel = -63
	}
	if t.BoundaryR <= 0 {
		t.BoundaryR = 4000
	}

	p := &t.Performance
	if p.MaxRegionsPerTick <= 0 {
		p.MaxRegionsPerTick = 1
	}
	if p.LevelsPerBatch <= 0 {
		p.LevelsPerBatch = 1
	}
	if p.SizeScaleMultiplier <= 0 {
		p.SizeScaleMultiplier = 1
	}
	if p.SizeScaleCap <= 0 {
		p.SizeScaleCap = 8
	}
	if p.TickIntervalTicks <= 0 {
		p.TickIntervalTicks = 100
	}
	if p.AggressiveIntervalDivisor <= 0 {
		p.AggressiveIntervalDivisor = 1
	}
	if p.LoadThreshold <= 0 || p.LoadThreshold > 1 {
		p.LoadThreshold = 0.9
	}
	if p.MinRegionsPerTick <= 0 {
		p.MinRegionsPerTick = 1
	}
	if p.MinLevelsPerBatch <= 0 {
		p.MinLevelsPerBatch = 1
	}
	if p.LoadSmoothing <= 0 || p.LoadSmoothing > 1 {
		p.LoadSmoothing = 0.75
	}
	if p.LoadCheckIntervalTicks <= 0 {
		p.LoadCheckIntervalTicks = 1
	}
	if p.ETAWindowSeconds < 3 {
		p.ETAWindowSeconds = 8
	}

	s := &t.Persistence
	if s.File == "" {
		s.File = "cleaners.db"
	}
	if s.AutosaveIntervalSeconds <= 0 {
		s.AutosaveIntervalSeconds = 60
	}

	a := &t.Audit
	if a.FlushIntervalTicks <= 0 {
		a.FlushIntervalTicks = 20
	}
	if a.MaxEntriesPerFlush <= 0 {
		a.MaxEntriesPerFlush = 50
	}
	if a.QueueMaxSize < 100 {
		a.QueueMaxSize = 5000
	}
	if a.QueueTrimTo < 100 {
		a.QueueTrimTo = 4000
	}
	if a.QueueTrimTo > a.QueueMaxSize {
		a.QueueTrimTo = a.QueueMaxSize
	}

	for key, ct := range t.Types {
		if ct.DisplayName == "" {
			ct.DisplayName = key
		}
		if ct.Size <= 0 {
			ct.Size = 1
		}
		if ct.DurationSeconds <= 0 {
			ct.DurationSeconds = 10
		}
		t.Types[key] = ct
	}
}

// Type looks up a cleaner type by key, case-insensitively.
func (t *Tuning) Type(key string) (CleanerType, bool) {
	if key == "" {
		return CleanerType{}, false
	}
	key = strings.ToLower(key)
	for k, ct := range t.Types {
		if strings.ToLower(k) == key {
			return ct, true
		}
	}
	return CleanerType{}, false
}

// TypeForBlock resolves a placed marker block to its cleaner type key.
// When more than one configured type maps to the same block the lookup
// is rejected instead of picking an arbitrary winner.
func (t *Tuning) TypeForBlock(block string) (string, error) {
	block = strings.ToUpper(strings.TrimSpace(block))
	if block == "" {
		return "", fmt.Errorf("empty marker block")
	}
	var matches []string
	for k, ct := range t.Types {
		if strings.ToUpper(ct.Block) == block {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no cleaner type uses block %s", block)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("block %s is ambiguous across types %v", block, matches)
	}
}
