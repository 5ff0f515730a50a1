// Package types holds the Atlas data model: the record shapes written into
// the archive and the control types shared across the crawl engine.
//
// Enumerated fields are closed sum types, not free strings: each has a
// named Go type, a const block of the valid values, and an IsValid method.
package types

// JobState is the CrawlJob lifecycle state.
type JobState string

const (
	JobIdle       JobState = "idle"
	JobRunning    JobState = "running"
	JobPaused     JobState = "paused"
	JobCanceling  JobState = "canceling"
	JobFinalizing JobState = "finalizing"
	JobDone       JobState = "done"
	JobFailed     JobState = "failed"
)

// RenderMode selects how a page's content is obtained.
type RenderMode string

const (
	ModeRaw       RenderMode = "raw"
	ModePrerender RenderMode = "prerender"
	ModeFull      RenderMode = "full"
)

// SpecLevel returns the manifest capability ordinal for this mode.
func (m RenderMode) SpecLevel() int {
	switch m {
	case ModeRaw:
		return 1
	case ModePrerender:
		return 2
	case ModeFull:
		return 3
	default:
		return 0
	}
}

// NavEndReason explains why browser navigation stopped waiting.
type NavEndReason string

const (
	NavReasonFetch       NavEndReason = "fetch"
	NavReasonLoad        NavEndReason = "load"
	NavReasonNetworkIdle NavEndReason = "networkidle"
	NavReasonTimeout     NavEndReason = "timeout"
	NavReasonError       NavEndReason = "error"
)

// DOMLocation tags the semantic ancestor an edge was discovered under.
type DOMLocation string

const (
	LocationNav     DOMLocation = "nav"
	LocationHeader  DOMLocation = "header"
	LocationFooter  DOMLocation = "footer"
	LocationAside   DOMLocation = "aside"
	LocationMain    DOMLocation = "main"
	LocationOther   DOMLocation = "other"
	LocationUnknown DOMLocation = "unknown"
)

// AssetType classifies an AssetRecord.
type AssetType string

const (
	AssetImage AssetType = "image"
	AssetVideo AssetType = "video"
	AssetAudio AssetType = "audio"
)

// ErrorPhase is the pipeline stage an ErrorRecord originated from.
type ErrorPhase string

const (
	PhaseFetch   ErrorPhase = "fetch"
	PhaseRender  ErrorPhase = "render"
	PhaseExtract ErrorPhase = "extract"
	PhaseWrite   ErrorPhase = "write"
)

// ParamPolicy controls how query parameters are treated during normalization.
type ParamPolicy string

const (
	ParamKeep   ParamPolicy = "keep"
	ParamStrip  ParamPolicy = "strip"
	ParamSample ParamPolicy = "sample"
)

// NoindexSurface records where a noindex directive was found.
type NoindexSurface string

const (
	NoindexMeta   NoindexSurface = "meta"
	NoindexHeader NoindexSurface = "header"
	NoindexBoth   NoindexSurface = "both"
)

// CompletionReason explains why the crawl stopped.
type CompletionReason string

const (
	CompletionFinished     CompletionReason = "finished"
	CompletionCapped       CompletionReason = "capped"
	CompletionErrorBudget  CompletionReason = "error_budget"
	CompletionManual       CompletionReason = "manual"
)

// Dataset names one of the archive's record categories.
type Dataset string

const (
	DatasetPages         Dataset = "pages"
	DatasetEdges         Dataset = "edges"
	DatasetAssets        Dataset = "assets"
	DatasetErrors        Dataset = "errors"
	DatasetAccessibility Dataset = "accessibility"
	DatasetConsole       Dataset = "console"
	DatasetStyles        Dataset = "styles"
)

// CoreDatasets are written on every crawl regardless of mode.
var CoreDatasets = []Dataset{DatasetPages, DatasetEdges, DatasetAssets, DatasetErrors}

// AbsentReason explains why a dataset has no rows in the manifest coverage matrix.
type AbsentReason string

const (
	AbsentNotInRenderMode AbsentReason = "not_in_render_mode"
	AbsentNoRecords       AbsentReason = "no_records"
	AbsentDisabled        AbsentReason = "disabled"
)
