// Package logger records timestamped OBD readings to CSV files with
// automatic rotation, so a diagnostic session can be replayed later.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shaunagostinho/autopulse/internal/obd"
)

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const maxRowsPerFile = 100_000

var csvHeader = []string{
	"timestamp", "rpm", "speed_kph", "coolant_c", "intake_c",
	"load_pct", "throttle_pct", "map_kpa", "baro_kpa", "maf_gs",
}

// Logger writes one CSV row per recorded snapshot, at most once per
// interval.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/autopulse"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled toggles logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on {
		l.closeFile()
	}
}

// Record writes a snapshot if the minimum interval has elapsed.
func (l *Logger) Record(s *obd.Snapshot) {
	if s == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	now := time.Now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(now, s)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	path := filepath.Join(l.dir, fmt.Sprintf("obd_%s.csv", now.Format("2006-01-02_150405")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, s *obd.Snapshot) []string {
	row := make([]string, len(csvHeader))
	row[0] = ts.Format(time.RFC3339Nano)
	if s.RPM != nil {
		row[1] = fmt.Sprintf("%.0f", *s.RPM)
	}
	if s.Speed != nil {
		row[2] = fmt.Sprintf("%d", *s.Speed)
	}
	if s.Coolant != nil {
		row[3] = fmt.Sprintf("%d", *s.Coolant)
	}
	if s.Intake != nil {
		row[4] = fmt.Sprintf("%d", *s.Intake)
	}
	if s.Load != nil {
		row[5] = fmt.Sprintf("%.1f", *s.Load)
	}
	if s.Throttle != nil {
		row[6] = fmt.Sprintf("%.1f", *s.Throttle)
	}
	if s.Manifold != nil {
		row[7] = fmt.Sprintf("%d", *s.Manifold)
	}
	if s.Baro != nil {
		row[8] = fmt.Sprintf("%d", *s.Baro)
	}
	if s.MAF != nil {
		row[9] = fmt.Sprintf("%.2f", *s.MAF)
	}
	return row
}
