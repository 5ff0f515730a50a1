package atlas

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atlascrawl/engine/pkg/types"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// schemaFilenames maps each dataset to its embedded schema file name.
var schemaFilenames = map[types.Dataset]string{
	types.DatasetPages:         "pages.schema.json",
	types.DatasetEdges:         "edges.schema.json",
	types.DatasetAssets:        "assets.schema.json",
	types.DatasetErrors:        "errors.schema.json",
	types.DatasetAccessibility: "accessibility.schema.json",
	types.DatasetConsole:       "console.schema.json",
	types.DatasetStyles:        "styles.schema.json",
}

// schemaRef returns the archive-relative path to a present dataset's schema.
func schemaRef(dataset types.Dataset) string {
	return "schemas/" + schemaFilenames[dataset]
}

// copySchemas writes the embedded JSON Schema for each present dataset into
// stagingDir/schemas/. Only schemas for datasets that actually appear in the
// archive are copied, per spec.md §4.5 step 4.
func copySchemas(stagingDir string, present []types.Dataset) error {
	dir := filepath.Join(stagingDir, "schemas")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create schemas directory: %w", err)
	}

	for _, ds := range present {
		name, ok := schemaFilenames[ds]
		if !ok {
			return fmt.Errorf("atlas: no embedded schema for dataset %s", ds)
		}
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return fmt.Errorf("read embedded schema %s: %w", name, err)
		}
		dst := filepath.Join(dir, name)
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("write schema %s: %w", dst, err)
		}
	}
	return nil
}
