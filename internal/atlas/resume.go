package atlas

import (
	"fmt"

	"github.com/atlascrawl/engine/pkg/types"
)

// ResumeWriter reopens a Writer against a prior staging directory using the
// part pointers recorded in a checkpoint. Each dataset named in
// expectedDatasets that has a pointer in checkpoint.PartPointers is reopened
// at that pointer; a dataset with no pointer (for example one the prior run
// never wrote rows for) starts fresh via newDatasetWriter instead.
//
// Rehydrating the visited set, the enqueued set, and the frontier queue
// itself is the checkpoint package's job, not the writer's: this function
// only repairs and reopens the dataset streams named in spec.md §4.6.
func ResumeWriter(config *Config, expectedDatasets []types.Dataset, checkpoint *types.CheckpointState) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("atlas: resume requires a non-nil checkpoint state")
	}

	w := &Writer{
		config:   config,
		datasets: make(map[types.Dataset]*DatasetWriter, len(expectedDatasets)),
		expected: make(map[types.Dataset]bool, len(expectedDatasets)),
	}

	for _, ds := range expectedDatasets {
		var dw *DatasetWriter
		var err error

		if pointer, ok := checkpoint.PartPointers[ds]; ok {
			dw, err = resumeDatasetWriter(config.StagingDir, ds, config.rotateThreshold(), config.FsyncEveryN, pointer)
		} else {
			dw, err = newDatasetWriter(config.StagingDir, ds, config.rotateThreshold(), config.FsyncEveryN)
		}
		if err != nil {
			w.closeAll()
			return nil, fmt.Errorf("resume dataset writer %s: %w", ds, err)
		}

		w.datasets[ds] = dw
		w.expected[ds] = true
	}

	return w, nil
}
