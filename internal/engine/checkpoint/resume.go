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

// Snapshot is everything Load recovers from a prior staging directory: the
// parsed state.json plus the two sidecars it references.
type Snapshot struct {
	State    types.CheckpointState
	Visited  []string
	Frontier []types.FrontierSnapshotEntry
}

// Load reads state.json from stagingDir and its two referenced sidecars.
// Per spec.md §4.6, a missing or malformed state.json means resume must
// refuse rather than guess; Load returns an error in either case.
func Load(stagingDir string) (*Snapshot, error) {
	statePath := filepath.Join(stagingDir, stateFilename)
	data, err := os.ReadFile(statePath)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", statePath, err)
	}

	var state types.CheckpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", statePath, err)
	}

	visited, err := loadVisitedSidecar(filepath.Join(stagingDir, orDefault(state.VisitedSidecar, visitedFilename)))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: visited sidecar: %w", err)
	}
	frontierEntries, err := loadFrontierSidecar(filepath.Join(stagingDir, orDefault(state.FrontierSidecar, frontierFilename)))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: frontier sidecar: %w", err)
	}

	return &Snapshot{State: state, Visited: visited, Frontier: frontierEntries}, nil
}

func loadVisitedSidecar(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(lz4.NewReader(f))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return urls, nil
}

func loadFrontierSidecar(path string) ([]types.FrontierSnapshotEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var entries []types.FrontierSnapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
