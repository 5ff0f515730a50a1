package types

import "time"

// EnvironmentSnapshot captures the render context stamped into the manifest.
type EnvironmentSnapshot struct {
	Viewport       string `json:"viewport,omitempty"`
	UserAgent      string `json:"userAgent"`
	Locale         string `json:"locale,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	BrowserEngine  string `json:"browserEngine,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
}

// CoverageRow is one line of the manifest's per-dataset coverage matrix.
type CoverageRow struct {
	Dataset   Dataset      `json:"dataset"`
	Expected  bool         `json:"expected"`
	Present   bool         `json:"present"`
	RowCount  int64        `json:"rowCount"`
	Reason    AbsentReason `json:"reason,omitempty"`
}

// PartFile describes one rotated JSONL part within a dataset.
type PartFile struct {
	Name            string `json:"name"`
	RowCount        int64  `json:"rowCount"`
	CompressedBytes int64  `json:"compressedBytes"`
	SHA256          string `json:"sha256"`
}

// PartsSummary is the per-dataset rollup of PartFile entries.
type PartsSummary struct {
	Dataset         Dataset    `json:"dataset"`
	Files           []PartFile `json:"files"`
	RecordCount     int64      `json:"recordCount"`
	CompressedBytes int64      `json:"compressedBytes"`
	SchemaRef       string     `json:"schemaRef"`
}

// Capabilities records which features this archive exercises.
type Capabilities struct {
	ModesSupported []RenderMode `json:"modesSupported"`
	ModesUsed      []RenderMode `json:"modesUsed"`
	SpecLevel      int          `json:"specLevel"`
	DatasetsPresent []Dataset   `json:"datasetsPresent"`
	FeatureFlags   map[string]bool `json:"featureFlags,omitempty"`
}

// Warning is an aggregated recoverable oddity.
type Warning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// Integrity is the manifest's file-hash ledger plus a compact fingerprint.
type Integrity struct {
	Files     map[string]string `json:"files"`
	AuditHash string            `json:"auditHash"`
}

// AtlasManifest is the top-level manifest.json document.
type AtlasManifest struct {
	FormatVersion string    `json:"formatVersion"`
	SpecVersion   string    `json:"specVersion"`
	CrawlID       string    `json:"crawlId"`
	Producer      string    `json:"producer"`
	Owner         string    `json:"owner"`
	CreatedAt     time.Time `json:"createdAt"`
	FinalizedAt   time.Time `json:"finalizedAt,omitempty"`

	Environment   EnvironmentSnapshot    `json:"environment"`
	Config        map[string]interface{} `json:"config"`

	Coverage     []CoverageRow           `json:"coverage"`
	Parts        map[Dataset]PartsSummary `json:"parts"`
	Capabilities Capabilities            `json:"capabilities"`

	Privacy  string    `json:"privacy,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`

	Integrity Integrity `json:"integrity"`
	Notes     []string  `json:"notes,omitempty"`

	Incomplete bool `json:"incomplete"`
}

// StatusHistogram maps an HTTP status code to an occurrence count.
type StatusHistogram map[int]int64

// ModeHistogram maps a render mode to an occurrence count.
type ModeHistogram map[RenderMode]int64

// AtlasSummary is the top-level summary.json document.
type AtlasSummary struct {
	Seeds         []string `json:"seeds"`
	PrimaryOrigin string   `json:"primaryOrigin"`
	Domain        string   `json:"domain"`
	PublicSuffix  string   `json:"publicSuffix,omitempty"`

	SpecLevel        int              `json:"specLevel"`
	CompletionReason CompletionReason `json:"completionReason"`
	EffectiveConfig  map[string]interface{} `json:"effectiveConfig"`

	Stats struct {
		TotalPages      int64           `json:"totalPages"`
		TotalEdges      int64           `json:"totalEdges"`
		TotalAssets     int64           `json:"totalAssets"`
		TotalErrors     int64           `json:"totalErrors"`
		StatusHistogram StatusHistogram `json:"statusHistogram"`
		ModeHistogram   ModeHistogram   `json:"modeHistogram"`
	} `json:"stats"`

	Performance struct {
		AvgRenderMs float64 `json:"avgRenderMs"`
		MaxDepth    int     `json:"maxDepth"`
	} `json:"performance"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}
