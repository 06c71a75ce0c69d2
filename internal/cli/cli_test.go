package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrelay/internal/queue"
)

type fixture struct {
	dir      string
	config   string
	queueDir string
}

func newFixture(t *testing.T, webhookURL string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir, queueDir: filepath.Join(dir, "queue")}

	doc := "notifications:\n  telegram:\n    min_severity: INFO\n"
	if webhookURL != "" {
		doc += fmt.Sprintf("  webhook:\n    enabled: true\n    endpoints:\n      - name: ops\n        url: %s\n", webhookURL)
	}
	docPath := filepath.Join(dir, "notifications.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte(doc), 0o644))

	f.config = filepath.Join(dir, "alertrelay.yaml")
	settings := fmt.Sprintf(`logging:
  level: error
queue:
  dir: %s
sources:
  document: %s
  topics: ""
  topic_cache: ""
telegram:
  disabled: true
storage:
  driver: file
  path: %s
metrics:
  listen: ""
`, f.queueDir, docPath, filepath.Join(dir, "journal.jsonl"))
	require.NoError(t, os.WriteFile(f.config, []byte(settings), 0o644))
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--config", f.config}, args...))
	err := root.Execute()
	return buf.String(), err
}

func (f *fixture) enqueueWebhook(t *testing.T, url string) {
	t.Helper()
	_, err := queue.New(f.queueDir).Enqueue(queue.Record{
		Destination: queue.Webhook,
		Tag:         "saltgoat/backup/bank",
		Payload:     map[string]any{"tag": "saltgoat/backup/bank"},
		Context:     map[string]any{"name": "ops", "url": url},
	})
	require.NoError(t, err)
}

func server(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDrain_MissingQueueDir(t *testing.T) {
	f := newFixture(t, "")
	out, err := f.run(t, "drain", "--json-status")
	require.NoError(t, err)
	assert.Contains(t, out, "does not exist; nothing to do.")
	assert.Contains(t, out, `"total": 0`)
}

func TestDrain_EmptyQueue(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, os.MkdirAll(f.queueDir, 0o755))
	out, err := f.run(t, "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty.")
}

func TestDrain_DeliversAndReports(t *testing.T) {
	srv, hits := server(t, http.StatusOK)
	f := newFixture(t, "")
	f.enqueueWebhook(t, srv.URL)

	out, err := f.run(t, "drain", "--verbose", "--json-status")
	require.NoError(t, err)
	assert.Contains(t, out, "[OK] ")
	assert.Contains(t, out, "webhook -> sent")
	assert.Contains(t, out, "Processed 1 record(s); 1 succeeded.")
	assert.Contains(t, out, `"total": 0`)
	assert.EqualValues(t, 1, hits.Load())
}

func TestDrain_FailuresAndStrict(t *testing.T) {
	srv, _ := server(t, http.StatusServiceUnavailable)
	f := newFixture(t, "")
	f.enqueueWebhook(t, srv.URL)

	out, err := f.run(t, "drain")
	require.NoError(t, err, "failures do not change the exit status by default")
	assert.Contains(t, out, "[FAIL] ")
	assert.Contains(t, out, "Processed 1 record(s); 0 succeeded.")
	assert.Contains(t, out, "1 record(s) still pending.")

	_, err = f.run(t, "drain", "--strict")
	var ex exitError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 1, ex.code)
}

func TestDrain_DryRun(t *testing.T) {
	srv, hits := server(t, http.StatusOK)
	f := newFixture(t, "")
	f.enqueueWebhook(t, srv.URL)

	out, err := f.run(t, "drain", "--dry-run", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "webhook -> dry-run")
	assert.Contains(t, out, "Processed 1 record(s); dry-run succeeded.")
	assert.EqualValues(t, 0, hits.Load())

	n, err := queue.New(f.queueDir).Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSend_WebhookOnly(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()
	f := newFixture(t, srv.URL)

	out, err := f.run(t, "send", "saltgoat/test/bank", "--severity", "debug", "--site", "bank", "--payload", `{"k":1}`, "--webhook-only")
	require.NoError(t, err)
	assert.Contains(t, out, "[OK] ops")
	assert.Equal(t, "DEBUG", got["severity"], "webhook-only bypasses routing")
	assert.Equal(t, map[string]any{"k": float64(1)}, got["payload"])
	assert.Contains(t, got["plain"], "NOTIFICATION TEST (BANK)")
}

func TestSend_FailureIsQueued(t *testing.T) {
	srv, _ := server(t, http.StatusBadGateway)
	f := newFixture(t, srv.URL)

	payloadFile := filepath.Join(f.dir, "payload.json")
	require.NoError(t, os.WriteFile(payloadFile, []byte(`{"size":3}`), 0o644))

	out, err := f.run(t, "send", "saltgoat/backup/bank", "--severity", "ERROR", "--payload", "@"+payloadFile, "--field", "Size=3")
	require.NoError(t, err)
	assert.Contains(t, out, "Webhooks delivered: 0; broadcast: transport_unavailable")

	entries, err := queue.New(f.queueDir).List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	status, err := f.run(t, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, status, `"webhook": 1`)
	assert.True(t, strings.Contains(status, `"outcome": "queued"`), status)
}

func TestSend_RejectsBadInput(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.run(t, "send", "a/b", "--payload", "[1,2]")
	assert.Error(t, err)
	_, err = f.run(t, "send", "a/b", "--field", "novalue")
	assert.Error(t, err)
}

func TestTopics_NoneConfigured(t *testing.T) {
	f := newFixture(t, "")
	out, err := f.run(t, "topics")
	require.NoError(t, err)
	assert.Contains(t, out, "No topics configured.")
}
