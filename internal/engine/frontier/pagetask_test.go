package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/atlascrawl/engine/internal/atlas"
	"github.com/atlascrawl/engine/internal/engine/fetch"
	"github.com/atlascrawl/engine/pkg/types"
)

func testAtlasConfig(t *testing.T) *atlas.Config {
	t.Helper()
	dir := t.TempDir()
	return &atlas.Config{
		StagingDir:    dir,
		OutputPath:    dir + ".atls",
		FormatVersion: "1.0",
		SpecVersion:   "1.0",
		Producer:      "atlascrawl-engine-test",
		Owner:         "atlascrawl",
	}
}

func TestPageTask_Run_WritesPageAndEdgesInRawMode(t *testing.T) {
	addr := ":19401"
	server := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("text/html; charset=utf-8")
		ctx.SetBodyString(`<html><head><title>Home</title></head><body><a href="/other">Other</a></body></html>`)
	}}
	go func() { _ = server.ListenAndServe(addr) }()
	time.Sleep(100 * time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.ShutdownWithContext(ctx)
	})

	writer, err := atlas.NewWriter(testAtlasConfig(t), types.CoreDatasets)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	task := &pageTask{
		fetcher: fetch.NewFetcher(nil, 1000, zap.NewNop()),
		writer:  writer,
		logger:  zap.NewNop(),
		cfg: &Config{
			UserAgent:       "atlascrawl-test",
			MaxBytesPerPage: 1024 * 1024,
			RenderMode:      "raw",
		},
	}

	entry := types.FrontierEntry{NormalizedURL: "http://127.0.0.1:19401/"}
	result := task.run(context.Background(), entry)

	require.NoError(t, result.Err)
	assert.Equal(t, "Home", result.Page.Title)
	assert.Equal(t, 200, result.Page.StatusCode)
	assert.NotEmpty(t, result.Page.PageID)
	require.Len(t, result.Edges, 1)
	assert.Equal(t, "http://127.0.0.1:19401/other", result.Edges[0].TargetURL)
	assert.False(t, result.Edges[0].IsExternal)
	require.Len(t, result.InternalEdges, 1)
}

func TestPageTask_Run_FetchFailureWritesErrorRecord(t *testing.T) {
	writer, err := atlas.NewWriter(testAtlasConfig(t), types.CoreDatasets)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	task := &pageTask{
		fetcher: fetch.NewFetcher(nil, 1000, zap.NewNop()),
		writer:  writer,
		logger:  zap.NewNop(),
		cfg: &Config{
			UserAgent:       "atlascrawl-test",
			MaxBytesPerPage: 1024 * 1024,
			RenderMode:      "raw",
		},
	}

	entry := types.FrontierEntry{NormalizedURL: "http://127.0.0.1:1/unreachable"}
	result := task.run(context.Background(), entry)

	assert.Error(t, result.Err)
	assert.Empty(t, result.Page.PageID)
}

func TestUrlKey_IsStableSHA1Hex(t *testing.T) {
	a := urlKey("https://example.com/a")
	b := urlKey("https://example.com/a")
	c := urlKey("https://example.com/b")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 40)
}

func TestFirstPathSegment(t *testing.T) {
	assert.Equal(t, "/", firstPathSegment("/"))
	assert.Equal(t, "/blog", firstPathSegment("/blog"))
	assert.Equal(t, "/blog", firstPathSegment("/blog/post-1"))
}
