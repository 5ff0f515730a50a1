package atlas

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/karrick/godirwalk"
	"go.uber.org/zap"

	"github.com/atlascrawl/engine/pkg/types"
)

// FinalizeOptions carries everything Finalize needs to know beyond the
// dataset streams it already owns.
type FinalizeOptions struct {
	CrawlID       string
	FormatVersion string
	SpecVersion   string
	Producer      string
	Owner         string
	Privacy       string
	CreatedAt     time.Time

	Environment types.EnvironmentSnapshot
	Config      map[string]interface{}

	ModesSupported []types.RenderMode
	ModesUsed      []types.RenderMode
	FeatureFlags   map[string]bool

	Warnings []types.Warning
	ResumeOf string

	Summary *types.AtlasSummary
}

// Finalize runs the all-or-nothing finalization protocol from spec.md §4.5:
// close every stream, compress the remaining JSONL parts in place, copy
// schemas, write summary.json, commit the manifest through its two-phase
// incomplete-flag dance, then ZIP-package the whole staging directory into
// the writer's configured output path.
func (w *Writer) Finalize(logger *zap.Logger, opts FinalizeOptions) error {
	if err := w.Close(); err != nil {
		return fmt.Errorf("close dataset streams: %w", err)
	}

	partsByDataset, err := w.compressDatasets(logger)
	if err != nil {
		return fmt.Errorf("compress dataset parts: %w", err)
	}

	var present []types.Dataset
	for ds, pr := range partsByDataset {
		if len(pr.Files) > 0 {
			present = append(present, ds)
		}
	}
	if err := copySchemas(w.config.StagingDir, present); err != nil {
		return fmt.Errorf("copy schemas: %w", err)
	}

	if opts.Summary != nil {
		opts.Summary.FinishedAt = time.Now().UTC()
		if err := writeSummary(w.config.StagingDir, opts.Summary); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	manifestPath := filepath.Join(w.config.StagingDir, "manifest.json")

	// Step 7: resume-safe in-progress marker. A crash here leaves a staging
	// directory whose manifest.json, if present, still says incomplete=true
	// from a previous pass, or is absent entirely.
	draft, err := buildManifest(w.manifestOptions(opts, true), partsByDataset, w.expectedSnapshot(), nil)
	if err != nil {
		return fmt.Errorf("build draft manifest: %w", err)
	}
	if err := writeJSONAtomic(manifestPath, draft); err != nil {
		return fmt.Errorf("write draft manifest: %w", err)
	}

	// Step 8: hash the full staging tree (now including manifest.json.tmp's
	// predecessor content, schemas, and summary.json, but not the final
	// manifest itself) and commit incomplete=false.
	fileHashes, err := hashStagingTree(w.config.StagingDir)
	if err != nil {
		return fmt.Errorf("hash staging tree: %w", err)
	}
	delete(fileHashes, "manifest.json")

	final, err := buildManifest(w.manifestOptions(opts, false), partsByDataset, w.expectedSnapshot(), fileHashes)
	if err != nil {
		return fmt.Errorf("build final manifest: %w", err)
	}
	if err := writeJSONAtomic(manifestPath, final); err != nil {
		return fmt.Errorf("commit final manifest: %w", err)
	}

	// Step 9: ZIP the staging directory, stored (uncompressed) since every
	// entry is already zstd-framed or small JSON metadata.
	if err := packageZip(w.config.StagingDir, w.config.OutputPath); err != nil {
		return fmt.Errorf("package archive: %w", err)
	}

	return nil
}

func (w *Writer) expectedSnapshot() map[types.Dataset]bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[types.Dataset]bool, len(w.expected))
	for ds, v := range w.expected {
		out[ds] = v
	}
	return out
}

func (w *Writer) manifestOptions(opts FinalizeOptions, incomplete bool) buildManifestOptions {
	return buildManifestOptions{
		CrawlID:        opts.CrawlID,
		FormatVersion:  opts.FormatVersion,
		SpecVersion:    opts.SpecVersion,
		Producer:       opts.Producer,
		Owner:          opts.Owner,
		Privacy:        opts.Privacy,
		CreatedAt:      opts.CreatedAt,
		FinalizedAt:    time.Now().UTC(),
		Environment:    opts.Environment,
		Config:         opts.Config,
		ModesSupported: opts.ModesSupported,
		ModesUsed:      opts.ModesUsed,
		FeatureFlags:   opts.FeatureFlags,
		Warnings:       opts.Warnings,
		ResumeOf:       opts.ResumeOf,
		Incomplete:     incomplete,
	}
}

// compressDatasets walks every dataset's closed parts, compressing each
// .jsonl to .jsonl.zst and deleting the plaintext once the compressed copy
// is confirmed written. A dataset with zero total rows across all its parts
// is dropped from the archive entirely: its directory is removed and it is
// reported absent with reason no_records (or not_in_render_mode if it was
// never expected at all) via the empty PartsResult.Files this returns for it.
func (w *Writer) compressDatasets(logger *zap.Logger) (map[types.Dataset]PartsResult, error) {
	w.mu.RLock()
	writers := make(map[types.Dataset]*DatasetWriter, len(w.datasets))
	for ds, dw := range w.datasets {
		writers[ds] = dw
	}
	w.mu.RUnlock()

	results := make(map[types.Dataset]PartsResult, len(writers))

	for ds, dw := range writers {
		dir := filepath.Join(w.config.StagingDir, string(ds))
		parts := dw.Parts()

		if dw.TotalRowCount() == 0 {
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("remove empty dataset directory %s: %w", dir, err)
			}
			results[ds] = PartsResult{Dataset: ds}
			continue
		}

		pr := PartsResult{Dataset: ds}
		for _, part := range parts {
			if part.rowCount == 0 {
				// Trailing empty part left open by Close(); nothing to
				// compress, and its existence would only pollute the
				// manifest's per-part row counts.
				plainPath := filepath.Join(dir, part.name)
				_ = os.Remove(plainPath)
				continue
			}

			plainPath := filepath.Join(dir, part.name)
			zstPath := plainPath + ".zst"

			if err := compressFile(plainPath, zstPath); err != nil {
				return nil, fmt.Errorf("compress %s: %w", plainPath, err)
			}
			info, err := os.Stat(zstPath)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", zstPath, err)
			}
			digest, err := hashFile(zstPath)
			if err != nil {
				return nil, fmt.Errorf("hash %s: %w", zstPath, err)
			}
			if err := os.Remove(plainPath); err != nil {
				return nil, fmt.Errorf("remove plaintext %s: %w", plainPath, err)
			}

			pr.Files = append(pr.Files, types.PartFile{
				Name:            string(ds) + "/" + filepath.Base(zstPath),
				RowCount:        part.rowCount,
				CompressedBytes: info.Size(),
				SHA256:          digest,
			})
			pr.RecordCount += part.rowCount
			pr.CompressedBytes += info.Size()
		}

		if len(pr.Files) == 0 {
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("remove emptied dataset directory %s: %w", dir, err)
			}
		}
		results[ds] = pr
		logger.Debug("compressed dataset parts",
			zap.String("dataset", string(ds)),
			zap.Int("parts", len(pr.Files)),
			zap.Int64("records", pr.RecordCount))
	}

	return results, nil
}

// writeSummary marshals an AtlasSummary to stagingDir/summary.json.
func writeSummary(stagingDir string, summary *types.AtlasSummary) error {
	return writeJSONAtomic(filepath.Join(stagingDir, "summary.json"), summary)
}

// writeJSONAtomic marshals v and writes it to path via the same
// tmp-then-rename pattern used for per-file writes elsewhere: write
// path+".tmp", fsync, then rename over path.
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

// packageZip streams every file under stagingDir into a ZIP at outputPath
// using the store method (no deflate), since dataset parts are already
// zstd-framed and the remaining metadata files are small. Waits for both
// the zip writer's Close and the output file's Close before returning, per
// spec.md §4.5 step 9.
func packageZip(stagingDir, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmpPath := outputPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	zw := zip.NewWriter(out)

	walkErr := godirwalk.Walk(stagingDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(stagingDir, path)
			if err != nil {
				return fmt.Errorf("relativize %s: %w", path, err)
			}

			hdr := &zip.FileHeader{
				Name:   filepath.ToSlash(rel),
				Method: zip.Store,
			}
			hdr.SetModTime(time.Now())

			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return fmt.Errorf("create zip entry %s: %w", rel, err)
			}

			src, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer src.Close()

			if _, err := io.Copy(w, src); err != nil {
				return fmt.Errorf("copy %s into archive: %w", rel, err)
			}
			return nil
		},
	})
	if walkErr != nil {
		zw.Close()
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("walk staging directory: %w", walkErr)
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("close zip writer: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename archive into place: %w", err)
	}
	return nil
}
