package tmcache

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/minios-linux/doctrans/gateway"
)

func openTest(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "tm", "memory.db"), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

type countingTranslator struct {
	calls int32
	seen  [][]string
}

func (f *countingTranslator) Translate(_ context.Context, req gateway.Request) ([]string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.seen = append(f.seen, req.Texts)
	out := make([]string, len(req.Texts))
	for i, s := range req.Texts {
		out[i] = "[de] " + s
	}
	return out, nil
}

func TestTranslator_ServesHits(t *testing.T) {
	c := openTest(t)
	next := &countingTranslator{}
	tr := c.Wrap(next, "deepl")
	ctx := context.Background()
	req := gateway.Request{SourceLang: "en", TargetLang: "de", Texts: []string{"a <1>b</1>", "c"}}

	out, err := tr.Translate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"[de] a <1>b</1>", "[de] c"}, out)

	req.Texts = []string{"new", "c", "a <1>b</1>"}
	out, err = tr.Translate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"[de] new", "[de] c", "[de] a <1>b</1>"}, out)
	require.Len(t, next.seen, 2)
	assert.Equal(t, []string{"new"}, next.seen[1], "only misses are forwarded")

	req.Texts = []string{"c"}
	_, err = tr.Translate(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.calls, "full hit must not call the service")

	s, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.Entries)
	assert.EqualValues(t, 3, s.Hits)
}

func TestTranslator_KeyedBySettings(t *testing.T) {
	c := openTest(t)
	next := &countingTranslator{}
	ctx := context.Background()
	req := gateway.Request{TargetLang: "de", Texts: []string{"x"}}

	_, err := c.Wrap(next, "deepl").Translate(ctx, req)
	require.NoError(t, err)

	req.Formality = "more"
	_, err = c.Wrap(next, "deepl").Translate(ctx, req)
	require.NoError(t, err)

	req.Formality = ""
	_, err = c.Wrap(next, "openai").Translate(ctx, req)
	require.NoError(t, err)

	assert.EqualValues(t, 3, next.calls)
}

func TestStore_SkipsGarbledMarkers(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	req := gateway.Request{TargetLang: "de"}

	n, err := c.Store(ctx, "deepl", req, []string{"a <1>b</1>", "c <2/>"}, []string{"a b", "c <2/>"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := c.Lookup(ctx, "deepl", req, "a <1>b</1>")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SkipsCrossedMarkers(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	req := gateway.Request{TargetLang: "de"}

	src := "<1><2>a</2></1>"
	n, err := c.Store(ctx, "deepl", req, []string{src}, []string{"<1><2>b</1></2>"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, ok, err := c.Lookup(ctx, "deepl", req, src)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrune(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	req := gateway.Request{TargetLang: "de"}

	c.now = func() time.Time { return time.Unix(1000, 0) }
	_, err := c.Store(ctx, "deepl", req, []string{"old"}, []string{"alt"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Unix(5000, 0) }
	_, err = c.Store(ctx, "deepl", req, []string{"new"}, []string{"neu"})
	require.NoError(t, err)

	removed, err := c.Prune(ctx, time.Unix(2000, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, ok, _ := c.Lookup(ctx, "deepl", req, "new")
	assert.True(t, ok)
}

func TestOpenInMemory(t *testing.T) {
	c, err := Open(":memory:")
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Store(context.Background(), "p", gateway.Request{}, []string{"a"}, []string{"b"})
	require.NoError(t, err)
	got, ok, err := c.Lookup(context.Background(), "p", gateway.Request{}, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", got)
}
