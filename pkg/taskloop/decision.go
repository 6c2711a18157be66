package taskloop

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/odvcencio/chauffeur/pkg/actions"
)

// ErrDecisionTimeout reports that no new action batch arrived within the
// decision wait interval.
var ErrDecisionTimeout = errors.New("timed out waiting for decision")

// Batch is one externally supplied decision: optional reasoning plus an
// ordered action sequence.
type Batch struct {
	Thinking string               `json:"thinking,omitempty"`
	Actions  []actions.Descriptor `json:"actions"`
}

// DecisionSource supplies one Batch per loop iteration. Await blocks until a
// batch newer than the last consumed one appears or the timeout elapses, in
// which case it returns ErrDecisionTimeout.
type DecisionSource interface {
	Await(ctx context.Context, timeout time.Duration) (*Batch, error)
}

// FileDecisionSource reads action batches from a JSON file an outside actor
// overwrites. A batch counts as new only when the file's modification time
// advances past the last consumed one. The wait is interruptible: an
// fsnotify watcher wakes it on writes, with a bounded poll ticker as the
// fallback for filesystems that drop events.
type FileDecisionSource struct {
	path         string
	pollInterval time.Duration
	lastMod      time.Time
}

// NewFileDecisionSource creates a source for the given decision file. Any
// batch already on disk is treated as consumed.
func NewFileDecisionSource(path string, pollInterval time.Duration) *FileDecisionSource {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	s := &FileDecisionSource{path: path, pollInterval: pollInterval}
	if info, err := os.Stat(path); err == nil {
		s.lastMod = info.ModTime()
	}
	return s
}

// Await implements DecisionSource.
func (s *FileDecisionSource) Await(ctx context.Context, timeout time.Duration) (*Batch, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var wake <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		// Watch the directory: the writer may replace the file by rename.
		if err := watcher.Add(filepath.Dir(s.path)); err == nil {
			wake = watcher.Events
		}
	}

	for {
		if batch, ok := s.poll(); ok {
			return batch, nil
		}
		select {
		case <-wake:
		case <-ticker.C:
		case <-deadline.C:
			return nil, ErrDecisionTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// poll checks for a batch newer than the last consumed one. Unparseable
// content is skipped without advancing the marker; the writer may still be
// mid-write.
func (s *FileDecisionSource) poll() (*Batch, bool) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, false
	}
	if !info.ModTime().After(s.lastMod) {
		return nil, false
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, false
	}

	s.lastMod = info.ModTime()
	return &batch, true
}
