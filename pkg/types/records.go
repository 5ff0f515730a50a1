package types

import "time"

// PageRecord is the per-page record written to pages/part-NNN.jsonl.
type PageRecord struct {
	PageID            string       `json:"pageId"`
	URLOriginal       string       `json:"urlOriginal"`
	URLFinal          string       `json:"urlFinal"`
	URLNormalized     string       `json:"urlNormalized"`
	URLKey            string       `json:"urlKey"`
	Origin            string       `json:"origin"`
	Pathname          string       `json:"pathname"`
	Section           string       `json:"section"`
	StatusCode        int          `json:"statusCode"`
	ContentType       string       `json:"contentType"`
	FetchedAt         time.Time    `json:"fetchedAt"`
	RedirectChain     []string     `json:"redirectChain,omitempty"`
	Depth             int          `json:"depth"`
	DiscoveredFrom    string       `json:"discoveredFrom,omitempty"`
	DiscoveredInMode  RenderMode   `json:"discoveredInMode"`
	RawHTMLHash       string       `json:"rawHtmlHash"`
	DOMHash           string       `json:"domHash,omitempty"`
	TextSample        string       `json:"textSample,omitempty"`
	Title             string       `json:"title,omitempty"`
	MetaDescription   string       `json:"metaDescription,omitempty"`
	H1                []string     `json:"h1,omitempty"`
	Headings          []string     `json:"headings,omitempty"`
	CanonicalHref     string       `json:"canonicalHref,omitempty"`
	CanonicalResolved string       `json:"canonicalResolved,omitempty"`
	RobotsMeta        string       `json:"robotsMeta,omitempty"`
	XRobotsTagHeader  string       `json:"xRobotsTagHeader,omitempty"`
	Hreflang          []Hreflang   `json:"hreflang,omitempty"`
	NoindexSurface    NoindexSurface `json:"noindexSurface,omitempty"`

	// Populated only when ModeUsed is prerender or full.
	OpenGraph       map[string]string `json:"openGraph,omitempty"`
	TwitterCard     map[string]string `json:"twitterCard,omitempty"`
	StructuredData  []string          `json:"structuredData,omitempty"`

	ModeUsed   RenderMode    `json:"modeUsed"`
	NavEndReason NavEndReason `json:"navEndReason,omitempty"`
	RenderMs   int64         `json:"renderMs,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// Hreflang is a single alternate-language link.
type Hreflang struct {
	Lang string `json:"lang"`
	URL  string `json:"url"`
}

// EdgeRecord is a single hyperlink discovered on a page.
type EdgeRecord struct {
	SourcePageID     string      `json:"sourcePageId"`
	TargetPageID     string      `json:"targetPageId,omitempty"`
	SourceURL        string      `json:"sourceUrl"`
	TargetURL        string      `json:"targetUrl"`
	AnchorText       string      `json:"anchorText,omitempty"`
	Rel              []string    `json:"rel,omitempty"`
	Nofollow         bool        `json:"nofollow"`
	Sponsored        bool        `json:"sponsored"`
	UGC              bool        `json:"ugc"`
	IsExternal       bool        `json:"isExternal"`
	Location         DOMLocation `json:"location"`
	SelectorHint     string      `json:"selectorHint,omitempty"`
	DiscoveredInMode RenderMode  `json:"discoveredInMode"`
	HTTPStatusAtTarget int       `json:"httpStatusAtTarget,omitempty"`
}

// ResponsiveImageCandidate is one srcset entry.
type ResponsiveImageCandidate struct {
	URL        string `json:"url"`
	Descriptor string `json:"descriptor,omitempty"`
}

// AssetRecord describes one image/video/audio resource referenced by a page.
type AssetRecord struct {
	PageID            string                     `json:"pageId"`
	AssetID           string                     `json:"assetId"`
	PageURL           string                     `json:"pageUrl"`
	AssetURL          string                     `json:"assetUrl"`
	Type              AssetType                  `json:"type"`
	Alt               string                     `json:"alt,omitempty"`
	HasAlt            bool                       `json:"hasAlt"`
	NaturalWidth      int                        `json:"naturalWidth,omitempty"`
	NaturalHeight     int                        `json:"naturalHeight,omitempty"`
	DisplayWidth      int                        `json:"displayWidth,omitempty"`
	DisplayHeight     int                        `json:"displayHeight,omitempty"`
	EstimatedBytes    int64                      `json:"estimatedBytes,omitempty"`
	Visible           bool                       `json:"visible"`
	AboveTheFold      bool                       `json:"aboveTheFold,omitempty"`
	Loading           string                     `json:"loading,omitempty"`
	SrcsetCandidates  []ResponsiveImageCandidate `json:"srcsetCandidates,omitempty"`
	Sizes             string                     `json:"sizes,omitempty"`
	PictureContext    bool                       `json:"pictureContext,omitempty"`
	DurationMs        int64                      `json:"durationMs,omitempty"`
	Controls          bool                       `json:"controls,omitempty"`
	Autoplay          bool                       `json:"autoplay,omitempty"`
	Tracks            []string                   `json:"tracks,omitempty"`
	Sources           []string                   `json:"sources,omitempty"`
}

// ErrorRecord captures one recoverable or fatal failure during crawling.
type ErrorRecord struct {
	URL        string     `json:"url"`
	Origin     string     `json:"origin,omitempty"`
	Hostname   string     `json:"hostname,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
	Phase      ErrorPhase `json:"phase"`
	Code       string     `json:"code"`
	Message    string     `json:"message"`
	Stack      string     `json:"stack,omitempty"`
}

// ConsoleRecord captures a page-originated browser console message (full mode only).
type ConsoleRecord struct {
	PageID    string    `json:"pageId"`
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// StyleRecord captures a computed-style snapshot for a text node (full mode only).
type StyleRecord struct {
	PageID     string            `json:"pageId"`
	Selector   string            `json:"selector"`
	TextSample string            `json:"textSample,omitempty"`
	Computed   map[string]string `json:"computed"`
}

// AccessibilityRecord captures one accessibility finding (full mode only).
type AccessibilityRecord struct {
	PageID   string `json:"pageId"`
	Rule     string `json:"rule"`
	Impact   string `json:"impact"`
	Selector string `json:"selector,omitempty"`
	Message  string `json:"message"`
}
