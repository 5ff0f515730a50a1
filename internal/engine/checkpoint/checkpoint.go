// Package checkpoint serializes and restores crawl state per spec.md
// §4.6: state.json plus two sidecar files, visited.idx.lz4 and frontier.json,
// written atomically (tmp-then-rename) on the cadence the scheduler drives.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/atlascrawl/engine/pkg/types"
)

const (
	stateFilename    = "state.json"
	visitedFilename  = "visited.idx.lz4"
	frontierFilename = "frontier.json"
)

// Writer saves checkpoint state to a staging directory. It holds no state
// of its own beyond the directory; the scheduler and atlas.Writer remain
// the sources of truth for what goes into each snapshot.
type Writer struct {
	stagingDir string
}

func NewWriter(stagingDir string) *Writer {
	return &Writer{stagingDir: stagingDir}
}

// Input bundles everything one checkpoint snapshot needs, gathered by the
// caller from Scheduler.Checkpoint, Scheduler.IterateVisited, and
// atlas.Writer.Checkpoint.
type Input struct {
	CrawlID          string
	VisitedCount     int64
	EnqueuedCount    int64
	QueueDepth       int
	PartPointers     map[types.Dataset]types.PartPointer
	RSSBytes         uint64
	ResumeOf         string
	GracefulShutdown bool
	IterateVisited   func(fn func(url string) bool) error
	FrontierSnapshot []types.FrontierSnapshotEntry
}

// Save writes the visited sidecar, the frontier sidecar, and state.json, in
// that order, each via tmp-then-rename. state.json is written last and
// referenced first on load, so a crash mid-save never leaves state.json
// pointing at a sidecar that doesn't exist; at worst a sidecar from this
// attempt is orphaned, which the next Save simply overwrites.
func (w *Writer) Save(in Input) (types.CheckpointState, error) {
	if err := w.writeVisitedSidecar(in.IterateVisited); err != nil {
		return types.CheckpointState{}, fmt.Errorf("checkpoint: visited sidecar: %w", err)
	}
	if err := w.writeFrontierSidecar(in.FrontierSnapshot); err != nil {
		return types.CheckpointState{}, fmt.Errorf("checkpoint: frontier sidecar: %w", err)
	}

	state := types.CheckpointState{
		CrawlID:          in.CrawlID,
		VisitedCount:     in.VisitedCount,
		EnqueuedCount:    in.EnqueuedCount,
		QueueDepth:       in.QueueDepth,
		VisitedSidecar:   visitedFilename,
		FrontierSidecar:  frontierFilename,
		PartPointers:     in.PartPointers,
		RSSBytes:         in.RSSBytes,
		ResumeOf:         in.ResumeOf,
		GracefulShutdown: in.GracefulShutdown,
	}

	if err := writeJSONAtomic(filepath.Join(w.stagingDir, stateFilename), &state); err != nil {
		return types.CheckpointState{}, fmt.Errorf("checkpoint: state.json: %w", err)
	}
	return state, nil
}

// writeVisitedSidecar dumps one normalized URL per line into an lz4-framed
// stream, keeping checkpoint cadence cheap on large visited sets, then
// renames the tmp file over visited.idx.lz4.
func (w *Writer) writeVisitedSidecar(iterate func(fn func(url string) bool) error) error {
	path := filepath.Join(w.stagingDir, visitedFilename)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	lzw := lz4.NewWriter(f)
	bw := bufio.NewWriter(lzw)
	var iterErr error
	if iterate != nil {
		iterErr = iterate(func(url string) bool {
			if _, err := bw.WriteString(url + "\n"); err != nil {
				iterErr = err
				return false
			}
			return true
		})
	}
	if iterErr == nil {
		iterErr = bw.Flush()
	}
	if iterErr == nil {
		iterErr = lzw.Close()
	}
	if iterErr != nil {
		f.Close()
		os.Remove(tmpPath)
		return iterErr
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

func (w *Writer) writeFrontierSidecar(entries []types.FrontierSnapshotEntry) error {
	if entries == nil {
		entries = []types.FrontierSnapshotEntry{}
	}
	return writeJSONAtomic(filepath.Join(w.stagingDir, frontierFilename), entries)
}

// writeJSONAtomic marshals v and writes it to path via the tmp-then-rename
// pattern, matching internal/atlas's own writeJSONAtomic.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}
