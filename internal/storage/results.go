// Package storage appends page run results as JSON lines to date
// organised, size rotated files.
package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrClosed     = errors.New("results writer is closed")
	ErrBufferFull = errors.New("results buffer full")
)

// ResultWriter writes records asynchronously to
// baseDir/<date>/<set>/<run id>.jsonl.
type ResultWriter struct {
	baseDir   string
	set       string
	runID     string
	maxSizeMB int

	writeCh   chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewResultWriter starts a writer for one run of the page set named set.
func NewResultWriter(baseDir, set, runID string, bufferSize, maxSizeMB int) *ResultWriter {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	w := &ResultWriter{
		baseDir:   baseDir,
		set:       Segment(set),
		runID:     runID,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues record. It never blocks; a full buffer drops the record.
func (w *ResultWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	case <-w.done:
		return ErrClosed
	default:
		slog.Warn("storage buffer full, dropping record", "set", w.set, "run_id", w.runID)
		return ErrBufferFull
	}
}

// Close flushes queued records and closes the file.
func (w *ResultWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		err := w.logger.Close()
		w.logger = nil
		return err
	}
	return nil
}

// Path is the file currently written to, empty before the first record.
func (w *ResultWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger == nil {
		return ""
	}
	return w.logger.Filename
}

func (w *ResultWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			for {
				select {
				case record := <-w.writeCh:
					w.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (w *ResultWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("storage marshal failed", "error", err, "set", w.set)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("storage open failed", "error", err, "set", w.set)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("storage write failed", "error", err, "set", w.set)
	}
}

func (w *ResultWriter) rotateForDate(date string) error {
	if w.logger != nil {
		w.logger.Close()
	}
	dir := filepath.Join(w.baseDir, date, w.set)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, w.runID+".jsonl"),
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
	}
	w.currentDate = date
	slog.Info("storage opened results file", "file", w.logger.Filename)
	return nil
}

// Segment turns a page set name into a single safe path element.
func Segment(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}
