package types

import "time"

// PartPointer records where a dataset's active part file had reached at checkpoint time.
type PartPointer struct {
	Filename   string `json:"filename"`
	ByteOffset int64  `json:"byteOffset"`
}

// CheckpointState is the contents of state.json.
type CheckpointState struct {
	CrawlID           string                 `json:"crawlId"`
	VisitedCount      int64                  `json:"visitedCount"`
	EnqueuedCount     int64                  `json:"enqueuedCount"`
	QueueDepth        int                    `json:"queueDepth"`
	VisitedSidecar    string                 `json:"visitedSidecar"`
	FrontierSidecar   string                 `json:"frontierSidecar"`
	PartPointers      map[Dataset]PartPointer `json:"partPointers"`
	RSSBytes          uint64                 `json:"rssBytes"`
	Timestamp         time.Time              `json:"timestamp"`
	ResumeOf          string                 `json:"resumeOf,omitempty"`
	GracefulShutdown  bool                   `json:"gracefulShutdown"`
}

// FrontierSnapshotEntry is one queued-but-not-dispatched URL captured at checkpoint time.
type FrontierSnapshotEntry struct {
	NormalizedURL  string `json:"normalizedUrl"`
	Depth          int    `json:"depth"`
	DiscoveredFrom string `json:"discoveredFrom,omitempty"`
}
