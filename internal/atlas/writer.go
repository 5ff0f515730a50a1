package atlas

import (
	"fmt"
	"sync"

	"github.com/atlascrawl/engine/pkg/types"
)

// Writer is the Atlas archive's streaming side: one DatasetWriter per
// expected dataset, fed records as the crawl produces them, and read back by
// Finalize once the crawl is done. Datasets not applicable to the crawl's
// render mode (e.g. accessibility/console/styles outside full mode) are
// simply never constructed here, which is how the manifest's coverage
// matrix tells "not expected" apart from "expected but empty".
type Writer struct {
	config *Config

	mu       sync.RWMutex
	datasets map[types.Dataset]*DatasetWriter
	expected map[types.Dataset]bool
}

// NewWriter creates the dataset streams named in expectedDatasets; every
// other Dataset value is treated as not applicable to this crawl.
func NewWriter(config *Config, expectedDatasets []types.Dataset) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	w := &Writer{
		config:   config,
		datasets: make(map[types.Dataset]*DatasetWriter, len(expectedDatasets)),
		expected: make(map[types.Dataset]bool, len(expectedDatasets)),
	}

	for _, ds := range expectedDatasets {
		dw, err := newDatasetWriter(config.StagingDir, ds, config.rotateThreshold(), config.FsyncEveryN)
		if err != nil {
			w.closeAll()
			return nil, fmt.Errorf("open dataset writer %s: %w", ds, err)
		}
		w.datasets[ds] = dw
		w.expected[ds] = true
	}

	return w, nil
}

// WriteRecord appends v to the dataset's current part file. Per spec.md
// §7, a failure here is fatal to the crawl (exit code 4): the caller
// should treat any error from this method that way, not as a per-record
// ErrorRecord.
func (w *Writer) WriteRecord(dataset types.Dataset, v interface{}) error {
	w.mu.RLock()
	dw, ok := w.datasets[dataset]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("atlas: dataset %s is not open on this writer", dataset)
	}
	return dw.WriteRecord(v)
}

// IsExpected reports whether dataset has an open stream on this writer.
func (w *Writer) IsExpected(dataset types.Dataset) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.expected[dataset]
}

// Checkpoint returns the current part pointer for every open dataset, for
// embedding into state.json.
func (w *Writer) Checkpoint() map[types.Dataset]types.PartPointer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[types.Dataset]types.PartPointer, len(w.datasets))
	for ds, dw := range w.datasets {
		out[ds] = dw.checkpoint()
	}
	return out
}

// Close flushes and closes every open dataset stream without finalizing the
// archive; used on a fatal-write abort path where the caller still wants
// whatever was flushed to disk to be durable for forensic/resume purposes.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeAllLocked()
}

func (w *Writer) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.closeAllLocked()
}

func (w *Writer) closeAllLocked() error {
	var firstErr error
	for _, dw := range w.datasets {
		if err := dw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
