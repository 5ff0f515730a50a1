package atlas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/atlascrawl/engine/pkg/types"
)

// closedPart is one part file that has stopped growing, either because it
// was rotated out or because the dataset stream was closed at finalize.
type closedPart struct {
	name     string
	rowCount int64
}

// DatasetWriter is the one-writer-per-dataset-stream named in spec.md §4.5:
// it appends newline-delimited JSON records to a rotating sequence of part
// files under stagingDir/<dataset>/, fsyncing on a cadence and rotating once
// a part crosses the configured byte threshold.
type DatasetWriter struct {
	dataset   types.Dataset
	dir       string
	threshold int64
	fsyncEvery int

	mu           sync.Mutex
	file         *os.File
	partIndex    int
	bytesWritten int64
	rowCount     int64
	writesSinceFsync int
	closedParts  []closedPart
}

// newDatasetWriter creates (or, on resume, reopens) the writer for one
// dataset. stagingDir is the crawl's staging root; the dataset's own
// subdirectory is created if missing.
func newDatasetWriter(stagingDir string, dataset types.Dataset, threshold int64, fsyncEvery int) (*DatasetWriter, error) {
	dir := filepath.Join(stagingDir, string(dataset))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset directory %s: %w", dir, err)
	}
	dw := &DatasetWriter{
		dataset:    dataset,
		dir:        dir,
		threshold:  threshold,
		fsyncEvery: fsyncEvery,
		partIndex:  1,
	}
	if err := dw.openCurrentPart(); err != nil {
		return nil, err
	}
	return dw, nil
}

// resumeDatasetWriter reopens an existing dataset directory at the
// checkpointed part and byte offset, per spec.md §4.6: any bytes past the
// offset in the current part are torn writes from a crash and are truncated
// away before the stream continues.
func resumeDatasetWriter(stagingDir string, dataset types.Dataset, threshold int64, fsyncEvery int, pointer types.PartPointer) (*DatasetWriter, error) {
	dir := filepath.Join(stagingDir, string(dataset))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset directory %s: %w", dir, err)
	}

	partIndex, err := parsePartIndex(pointer.Filename)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", dataset, err)
	}

	dw := &DatasetWriter{
		dataset:    dataset,
		dir:        dir,
		threshold:  threshold,
		fsyncEvery: fsyncEvery,
		partIndex:  partIndex,
	}

	// Fold every part before the checkpointed one into closedParts with a
	// best-effort row count recovered by counting newlines; these parts are
	// already complete and will not be reopened.
	for i := 1; i < partIndex; i++ {
		name := dw.partName(i)
		rows, err := countLines(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("count rows in prior part %s: %w", name, err)
		}
		dw.closedParts = append(dw.closedParts, closedPart{name: name, rowCount: rows})
	}

	path := filepath.Join(dir, pointer.Filename)
	if err := truncateTornTail(path, pointer.ByteOffset); err != nil {
		return nil, fmt.Errorf("repair %s: %w", path, err)
	}

	rows, err := countLines(path)
	if err != nil {
		return nil, fmt.Errorf("count rows in current part %s: %w", path, err)
	}
	dw.rowCount = rows
	dw.bytesWritten = pointer.ByteOffset

	if err := dw.openCurrentPart(); err != nil {
		return nil, err
	}
	return dw, nil
}

// parsePartIndex extracts the numeric index from a "part-NNN.jsonl" name.
func parsePartIndex(name string) (int, error) {
	var index int
	if _, err := fmt.Sscanf(name, "part-%03d.jsonl", &index); err != nil {
		return 0, fmt.Errorf("malformed part filename %q: %w", name, err)
	}
	if index < 1 {
		return 0, fmt.Errorf("malformed part filename %q: index must be >= 1", name)
	}
	return index, nil
}

// truncateTornTail shrinks the file at path to exactly offset bytes, if it
// currently holds more; a crash mid-write can leave a partial trailing JSON
// line past the last fsynced offset, which is never valid to keep.
func truncateTornTail(path string, offset int64) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if offset != 0 {
			return fmt.Errorf("checkpoint expects %d bytes but %s does not exist", offset, path)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() <= offset {
		return nil
	}
	return os.Truncate(path, offset)
}

// countLines reports the number of newline-terminated lines in the file at
// path, used to recover a DatasetWriter's row count across a resume where
// only the byte offset, not the row count, was checkpointed. Returns 0 if
// the file does not exist yet.
func countLines(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return int64(bytes.Count(data, []byte("\n"))), nil
}

func (dw *DatasetWriter) partName(index int) string {
	return fmt.Sprintf("part-%03d.jsonl", index)
}

func (dw *DatasetWriter) openCurrentPart() error {
	path := filepath.Join(dw.dir, dw.partName(dw.partIndex))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open part file %s: %w", path, err)
	}
	dw.file = f
	return nil
}

// WriteRecord appends one record as a JSON line, rotating to a new part
// first if the current one has crossed the rotation threshold.
func (dw *DatasetWriter) WriteRecord(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", dw.dataset, err)
	}
	line = append(line, '\n')

	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.bytesWritten > 0 && dw.bytesWritten+int64(len(line)) > dw.threshold {
		if err := dw.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := dw.file.Write(line)
	if err != nil {
		return fmt.Errorf("write %s record: %w", dw.dataset, err)
	}
	dw.bytesWritten += int64(n)
	dw.rowCount++
	dw.writesSinceFsync++

	if dw.fsyncEvery > 0 && dw.writesSinceFsync >= dw.fsyncEvery {
		if err := dw.file.Sync(); err != nil {
			return fmt.Errorf("fsync %s part: %w", dw.dataset, err)
		}
		dw.writesSinceFsync = 0
	}

	return nil
}

// rotateLocked closes and fsyncs the current part, records it as closed,
// and opens the next part index. Caller must hold dw.mu.
func (dw *DatasetWriter) rotateLocked() error {
	if err := dw.file.Sync(); err != nil {
		return fmt.Errorf("fsync before rotate: %w", err)
	}
	if err := dw.file.Close(); err != nil {
		return fmt.Errorf("close part before rotate: %w", err)
	}
	dw.closedParts = append(dw.closedParts, closedPart{
		name:     dw.partName(dw.partIndex),
		rowCount: dw.rowCount,
	})

	dw.partIndex++
	dw.bytesWritten = 0
	dw.rowCount = 0
	dw.writesSinceFsync = 0
	return dw.openCurrentPart()
}

// Close fsyncs and closes the current part, folding it into the closed-part
// list so Finalize sees every part this stream ever produced.
func (dw *DatasetWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.file == nil {
		return nil
	}
	if err := dw.file.Sync(); err != nil {
		return fmt.Errorf("fsync %s on close: %w", dw.dataset, err)
	}
	if err := dw.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dw.dataset, err)
	}
	dw.closedParts = append(dw.closedParts, closedPart{
		name:     dw.partName(dw.partIndex),
		rowCount: dw.rowCount,
	})
	dw.file = nil
	return nil
}

// Parts returns every part file this stream has produced, in order.
func (dw *DatasetWriter) Parts() []closedPart {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return append([]closedPart(nil), dw.closedParts...)
}

// checkpoint reports the current part's name and byte offset for state.json.
func (dw *DatasetWriter) checkpoint() types.PartPointer {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return types.PartPointer{
		Filename:   dw.partName(dw.partIndex),
		ByteOffset: dw.bytesWritten,
	}
}

// TotalRowCount sums row counts across every part produced so far,
// including the still-open current one.
func (dw *DatasetWriter) TotalRowCount() int64 {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	total := dw.rowCount
	for _, p := range dw.closedParts {
		total += p.rowCount
	}
	return total
}
