// Package recorder writes pin events to CSV files with automatic rotation.
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// Recorder appends timestamped pin events to CSV files.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	maxRows  int
	log      zerolog.Logger
	now      func() time.Time

	file   *os.File
	writer *csv.Writer
	last   map[pin.Pin]time.Time
	rows   int
}

// Config holds recorder configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile  = 100_000
	defaultInterval = 100 * time.Millisecond
)

var csvHeader = []string{"timestamp", "link", "pin", "kind", "value"}

// New creates a Recorder. An interval of zero records every event.
func New(cfg Config) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/ardulink"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 0 {
		interval = defaultInterval
	}
	return &Recorder{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		maxRows:  maxRowsPerFile,
		log:      observability.Component("recorder"),
		now:      time.Now,
		last:     make(map[pin.Pin]time.Time),
	}
}

// SetEnabled allows toggling recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on {
		r.closeFile()
	}
}

func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record writes one event unless the same pin was recorded less than the
// interval ago.
func (r *Recorder) Record(linkID string, e proto.PinChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	now := r.now()
	if last, ok := r.last[e.Pin]; ok && now.Sub(last) < r.interval {
		return
	}
	r.last[e.Pin] = now

	if r.writer == nil || r.rows >= r.maxRows {
		if err := r.rotateFile(now); err != nil {
			r.log.Error().Err(err).Msg("rotate failed")
			return
		}
	}

	kind := "digital"
	if e.Pin.IsAnalog() {
		kind = "analog"
	}
	row := []string{now.Format(time.RFC3339Nano), linkID, e.Pin.String(), kind, strconv.Itoa(e.Value)}
	if err := r.writer.Write(row); err != nil {
		r.log.Error().Err(err).Msg("write failed")
		return
	}
	r.writer.Flush()
	r.rows++
}

// Listener adapts the recorder to a pin listener for one link.
func (r *Recorder) Listener(linkID string) *PinRecorder {
	return &PinRecorder{r: r, linkID: linkID}
}

// PinRecorder records the events of one link.
type PinRecorder struct {
	r      *Recorder
	linkID string
}

func (p *PinRecorder) PinChanged(e proto.PinChanged) { p.r.Record(p.linkID, e) }

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	filename := fmt.Sprintf("pins_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(r.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	r.log.Info().Str("path", path).Msg("opened")
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}
