package atlas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/atlascrawl/engine/pkg/types"
)

// hashFile returns the hex-encoded SHA-256 digest of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashStagingTree walks stagingDir and returns a map of relative path to
// hex SHA-256 digest for every regular file found. Walked with godirwalk
// for the same reason the rest of the pack reaches for it over
// filepath.Walk: it avoids a full lstat per entry on most platforms and
// scales better across the thousands of part files a large crawl produces.
func hashStagingTree(stagingDir string) (map[string]string, error) {
	files := make(map[string]string)

	err := godirwalk.Walk(stagingDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(stagingDir, path)
			if err != nil {
				return fmt.Errorf("relativize %s: %w", path, err)
			}
			digest, err := hashFile(path)
			if err != nil {
				return err
			}
			files[filepath.ToSlash(rel)] = digest
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk staging directory: %w", err)
	}
	return files, nil
}

// auditHash computes the reproducibility fingerprint named in spec.md §4.5:
// SHA-256 over the sorted concatenation of every part file's own SHA-256
// digest, independent of file system iteration order.
func auditHash(partsByDataset map[types.Dataset]PartsResult) string {
	var digests []string
	for _, pr := range partsByDataset {
		for _, f := range pr.Files {
			digests = append(digests, f.SHA256)
		}
	}
	sort.Strings(digests)

	h := sha256.New()
	for _, d := range digests {
		h.Write([]byte(d))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PartsResult is the per-dataset rollup produced while building the
// manifest: compressed part files plus the row/byte totals derived from
// them.
type PartsResult struct {
	Dataset         types.Dataset
	Files           []types.PartFile
	RecordCount     int64
	CompressedBytes int64
}

// coverageReason decides why an expected dataset ended up absent from the
// final archive, used to populate the manifest's coverage matrix.
func coverageReason(expected, present bool, rowCount int64) types.AbsentReason {
	if present {
		return ""
	}
	if !expected {
		return types.AbsentNotInRenderMode
	}
	if rowCount == 0 {
		return types.AbsentNoRecords
	}
	return types.AbsentDisabled
}

// buildManifestOptions carries everything buildManifest needs beyond what
// the staging tree itself reveals.
type buildManifestOptions struct {
	CrawlID       string
	FormatVersion string
	SpecVersion   string
	Producer      string
	Owner         string
	Privacy       string
	CreatedAt     time.Time
	FinalizedAt   time.Time

	Environment types.EnvironmentSnapshot
	Config      map[string]interface{}

	ModesSupported []types.RenderMode
	ModesUsed      []types.RenderMode
	FeatureFlags   map[string]bool

	Warnings []types.Warning
	Notes    []string

	ResumeOf string

	Incomplete bool
}

// buildManifest assembles the AtlasManifest document from the staging tree
// and the per-dataset rollups in partsByDataset. expected/present record
// which datasets this crawl's render mode asked for versus which actually
// ended up with at least one row written.
func buildManifest(
	opts buildManifestOptions,
	partsByDataset map[types.Dataset]PartsResult,
	expected map[types.Dataset]bool,
	fileHashes map[string]string,
) (*types.AtlasManifest, error) {
	parts := make(map[types.Dataset]types.PartsSummary, len(partsByDataset))
	var datasetsPresent []types.Dataset
	var coverage []types.CoverageRow

	allDatasets := []types.Dataset{
		types.DatasetPages, types.DatasetEdges, types.DatasetAssets, types.DatasetErrors,
		types.DatasetAccessibility, types.DatasetConsole, types.DatasetStyles,
	}
	for _, ds := range allDatasets {
		pr, hasParts := partsByDataset[ds]
		present := hasParts && len(pr.Files) > 0
		isExpected := expected[ds]

		if present {
			datasetsPresent = append(datasetsPresent, ds)
			parts[ds] = types.PartsSummary{
				Dataset:         ds,
				Files:           pr.Files,
				RecordCount:     pr.RecordCount,
				CompressedBytes: pr.CompressedBytes,
				SchemaRef:       schemaRef(ds),
			}
		}

		if !isExpected && !present {
			continue
		}

		rowCount := int64(0)
		if hasParts {
			rowCount = pr.RecordCount
		}
		coverage = append(coverage, types.CoverageRow{
			Dataset:  ds,
			Expected: isExpected,
			Present:  present,
			RowCount: rowCount,
			Reason:   coverageReason(isExpected, present, rowCount),
		})
	}

	sort.Slice(datasetsPresent, func(i, j int) bool { return datasetsPresent[i] < datasetsPresent[j] })
	sort.Slice(coverage, func(i, j int) bool { return coverage[i].Dataset < coverage[j].Dataset })

	specLevel := 0
	for _, m := range opts.ModesUsed {
		if l := m.SpecLevel(); l > specLevel {
			specLevel = l
		}
	}

	notes := append([]string(nil), opts.Notes...)
	if opts.ResumeOf != "" {
		notes = append(notes, fmt.Sprintf("resumeOf=%s", opts.ResumeOf))
	}

	manifest := &types.AtlasManifest{
		FormatVersion: opts.FormatVersion,
		SpecVersion:   opts.SpecVersion,
		CrawlID:       opts.CrawlID,
		Producer:      opts.Producer,
		Owner:         opts.Owner,
		CreatedAt:     opts.CreatedAt,
		FinalizedAt:   opts.FinalizedAt,
		Environment:   opts.Environment,
		Config:        opts.Config,
		Coverage:      coverage,
		Parts:         parts,
		Capabilities: types.Capabilities{
			ModesSupported:  opts.ModesSupported,
			ModesUsed:       opts.ModesUsed,
			SpecLevel:       specLevel,
			DatasetsPresent: datasetsPresent,
			FeatureFlags:    opts.FeatureFlags,
		},
		Privacy:    opts.Privacy,
		Warnings:   opts.Warnings,
		Notes:      notes,
		Incomplete: opts.Incomplete,
		Integrity: types.Integrity{
			Files:     fileHashes,
			AuditHash: auditHash(partsByDataset),
		},
	}

	return manifest, nil
}
