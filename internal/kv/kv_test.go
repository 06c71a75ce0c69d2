package kv_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrelay/internal/kv"
	logx "alertrelay/pkg/logx"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLookup(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 3}},
		"x": "y",
	}
	v, ok := kv.Lookup(doc, "a.b.c")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = kv.Lookup(doc, "a.missing")
	assert.False(t, ok)
	_, ok = kv.Lookup(doc, "x.y")
	assert.False(t, ok, "cannot descend into a scalar")
	_, ok = kv.Lookup(nil, "a")
	assert.False(t, ok)
}

func TestFile_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	y := kv.NewFile(writeFile(t, dir, "doc.yaml", "notifications:\n  telegram:\n    min_severity: WARNING\n    5: five\n"), logx.Nop())
	v, ok := y.Get(ctx, "notifications.telegram.min_severity")
	require.True(t, ok)
	assert.Equal(t, "WARNING", v)
	v, ok = y.Get(ctx, "notifications.telegram.5")
	require.True(t, ok, "non-string keys are normalized")
	assert.Equal(t, "five", v)

	j := kv.NewFile(writeFile(t, dir, "doc.json", `{"telegram":{"profiles":{"ops":{"token":"t"}}}}`), logx.Nop())
	v, ok = j.Get(ctx, "telegram.profiles.ops.token")
	require.True(t, ok)
	assert.Equal(t, "t", v)
}

func TestFile_MissingAndMalformed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	missing := kv.NewFile(filepath.Join(dir, "nope.yaml"), logx.Nop())
	_, ok := missing.Get(ctx, "notifications")
	assert.False(t, ok)

	bad := kv.NewFile(writeFile(t, dir, "bad.yaml", "notifications: [unclosed"), logx.Nop())
	_, ok = bad.Get(ctx, "notifications")
	assert.False(t, ok)

	scalar := kv.NewFile(writeFile(t, dir, "scalar.yaml", "just a string"), logx.Nop())
	_, ok = scalar.Get(ctx, "notifications")
	assert.False(t, ok)
}

func TestFile_Reload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	p := writeFile(t, dir, "doc.yaml", "k: one\n")

	f := kv.NewFile(p, logx.Nop())
	v, _ := f.Get(ctx, "k")
	assert.Equal(t, "one", v)

	writeFile(t, dir, "doc.yaml", "k: two\n")
	v, _ = f.Get(ctx, "k")
	assert.Equal(t, "one", v, "document is cached until reload")

	require.NoError(t, f.Reload())
	v, _ = f.Get(ctx, "k")
	assert.Equal(t, "two", v)
}

func TestChain_FirstNonEmptyWins(t *testing.T) {
	ctx := context.Background()
	primary := kv.Map{"notifications": map[string]any{}}
	fallback := kv.Map{"notifications": map[string]any{"telegram": map[string]any{"enabled": false}}}

	v, ok := kv.Chain{primary, fallback}.Get(ctx, "notifications")
	require.True(t, ok)
	m, _ := kv.AsMap(v)
	assert.Contains(t, m, "telegram")

	_, ok = kv.Chain{primary, kv.Map{}}.Get(ctx, "notifications")
	assert.False(t, ok)
}

func TestConvert(t *testing.T) {
	assert.Equal(t, "12", kv.AsString(12))
	assert.Equal(t, "-100123", kv.AsString(float64(-100123)))
	assert.Equal(t, "", kv.AsString(nil))

	assert.True(t, kv.AsBool("yes", false))
	assert.False(t, kv.AsBool(false, true))
	assert.True(t, kv.AsBool("weird", true))

	n, ok := kv.AsInt(" 42 ")
	assert.True(t, ok)
	assert.Equal(t, 42, n)
	_, ok = kv.AsInt(1.5)
	assert.False(t, ok)

	id, ok := kv.AsInt64("-1001234567890")
	assert.True(t, ok)
	assert.Equal(t, int64(-1001234567890), id)

	assert.Equal(t, []string{"a", "1"}, kv.AsStrings([]any{"a", 1}))
	assert.Nil(t, kv.AsStrings("a"))
}

func TestWatch_CallsOnChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "doc.yaml", "k: one\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = kv.Watch(ctx, logx.Nop(), func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}, p)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "doc.yaml", "k: two\n")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("onChange not called")
	}
	cancel()
	<-done
}
