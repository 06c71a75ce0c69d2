package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrelay/internal/kv"
	"alertrelay/internal/transport"
	logx "alertrelay/pkg/logx"
	"alertrelay/pkg/msgfmt"
)

type sent struct {
	token    string
	chatID   int64
	threadID int
	text     string
	mode     string
}

type fakeSender struct {
	token string
	mu    *sync.Mutex
	log   *[]sent
	fail  map[int64]error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, threadID int, text, parseMode string) error {
	if err := f.fail[chatID]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.log = append(*f.log, sent{f.token, chatID, threadID, text, parseMode})
	return nil
}

func profilesDoc() kv.Map {
	return kv.Map{"telegram": map[string]any{"profiles": map[string]any{
		"ops": map[string]any{"token": "T1", "chat_ids": []any{-100, "-200", -100}},
		"biz": map[string]any{"token": "T2", "targets": []any{map[string]any{"chat_id": -300}}},
		"off": map[string]any{"enabled": false, "token": "T3", "chat_id": -400},
		"nok": map[string]any{"chat_id": -500},
		"bad": "nope",
	}}}
}

func newTestBroadcaster(t *testing.T, src kv.Source, fail map[int64]error) (*Broadcaster, *[]sent) {
	t.Helper()
	var (
		mu  sync.Mutex
		log []sent
	)
	b := New(Config{RatePerSec: 1000}, src, logx.Nop())
	b.newSender = func(token string) (sender, error) {
		return &fakeSender{token: token, mu: &mu, log: &log, fail: fail}, nil
	}
	return b, &log
}

func TestProfiles(t *testing.T) {
	b, _ := newTestBroadcaster(t, profilesDoc(), nil)
	ps, err := b.Profiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []transport.Profile{
		{Name: "biz", ChatIDs: []int64{-300}},
		{Name: "ops", ChatIDs: []int64{-100, -200}},
	}, ps)
}

func TestProfiles_MissingAndMalformed(t *testing.T) {
	b, _ := newTestBroadcaster(t, kv.Map{}, nil)
	ps, err := b.Profiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ps)

	b, _ = newTestBroadcaster(t, kv.Map{"telegram": map[string]any{"profiles": []any{"x"}}}, nil)
	_, err = b.Profiles(context.Background())
	assert.Error(t, err)
}

func TestBroadcast_AllChats(t *testing.T) {
	ctx := context.Background()
	b, log := newTestBroadcaster(t, profilesDoc(), nil)
	ps, err := b.Profiles(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Broadcast(ctx, ps, "<pre>hi</pre>", 42, msgfmt.ModeRich))
	require.Len(t, *log, 3)
	for _, s := range *log {
		assert.Equal(t, 42, s.threadID)
		assert.Equal(t, "HTML", s.mode)
		assert.Equal(t, "<pre>hi</pre>", s.text)
	}
	assert.Equal(t, "T2", (*log)[0].token)
}

func TestBroadcast_PartialFailure(t *testing.T) {
	ctx := context.Background()
	b, log := newTestBroadcaster(t, profilesDoc(), map[int64]error{-200: errors.New("chat not found")})
	ps, _ := b.Profiles(ctx)

	err := b.Broadcast(ctx, ps, "x", 0, msgfmt.ModePlain)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat -200")
	assert.Len(t, *log, 2, "other chats still receive the message")
}

func TestBroadcast_Unavailable(t *testing.T) {
	b := New(Config{Disabled: true}, profilesDoc(), logx.Nop())
	assert.False(t, b.Available())
	err := b.Broadcast(context.Background(), []transport.Profile{{Name: "ops"}}, "x", 0, msgfmt.ModePlain)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestResolveChat(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroadcaster(t, profilesDoc(), nil)

	id, ok := b.ResolveChat(ctx, -200, "")
	assert.True(t, ok)
	assert.Equal(t, int64(-200), id)

	id, ok = b.ResolveChat(ctx, -999, "ops")
	assert.True(t, ok)
	assert.Equal(t, int64(-100), id)

	id, ok = b.ResolveChat(ctx, 0, "")
	assert.True(t, ok)
	assert.Equal(t, int64(-300), id, "first chat of the first profile by name")

	b, _ = newTestBroadcaster(t, kv.Map{}, nil)
	_, ok = b.ResolveChat(ctx, 0, "")
	assert.False(t, ok)
}

func TestCreateTopic(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_thread_id":77,"name":"Backups"}}`))
	}))
	defer srv.Close()

	b := New(Config{APIURL: srv.URL}, profilesDoc(), logx.Nop())
	id, err := b.CreateTopic(context.Background(), -300, "Backups", 7322096)
	require.NoError(t, err)
	assert.Equal(t, 77, id)
	assert.Equal(t, "/botT2/createForumTopic", path)
	assert.Equal(t, "Backups", got["name"])
	assert.EqualValues(t, -300, got["chat_id"])
	assert.EqualValues(t, 7322096, got["icon_color"])
}

func TestCreateTopic_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: not a forum"}`))
	}))
	defer srv.Close()

	b := New(Config{APIURL: srv.URL}, profilesDoc(), logx.Nop())
	_, err := b.CreateTopic(context.Background(), -100, "X", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a forum")

	_, err = b.CreateTopic(context.Background(), -12345, "X", 0)
	assert.Error(t, err, "unknown chat")
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10, ""))

	lines := strings.Repeat("abcdefghi\n", 10)
	parts := splitText(strings.TrimRight(lines, "\n"), 35, "")
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len([]rune(p)), 35)
		assert.False(t, strings.HasPrefix(p, "\n"))
	}
	assert.Equal(t, strings.TrimRight(lines, "\n"), strings.Join(parts, "\n"))
}

func TestSplitText_HTMLTagBoundary(t *testing.T) {
	s := strings.Repeat("a", 18) + "<b>bold</b>"
	parts := splitText(s, 20, "HTML")
	require.Len(t, parts, 2)
	assert.Equal(t, strings.Repeat("a", 18), parts[0])
	assert.True(t, strings.HasPrefix(parts[1], "<b>"))
}

func TestSplitPre(t *testing.T) {
	inner := strings.Repeat("line &lt;x&gt;\n", 20)
	parts := splitPre("<pre>"+inner+"</pre>", 60)
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.True(t, strings.HasPrefix(p, "<pre>"))
		assert.True(t, strings.HasSuffix(p, "</pre>"))
		assert.LessOrEqual(t, len([]rune(p)), 60)
		body := strings.TrimSuffix(strings.TrimPrefix(p, "<pre>"), "</pre>")
		assert.Equal(t, strings.Count(body, "&"), strings.Count(body, ";"), "entities are never cut")
	}
}
