package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestLogSink_LevelBySeverity(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(logger)

	sink.Record(Entry{Kind: KindConnectionSuccess, Severity: SeverityLow, ConnectionID: "c1", UserID: "u1"})
	sink.Record(Entry{Kind: KindUnauthorizedUpdate, Severity: SeverityMedium, ConnectionID: "c2"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first["level"] != "INFO" || first["user_id"] != "u1" {
		t.Errorf("first line = %v", first)
	}
	if second["level"] != "WARN" {
		t.Errorf("second level = %v, want WARN", second["level"])
	}
	if _, ok := second["user_id"]; ok {
		t.Error("user_id should be omitted when empty")
	}
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, b, Discard{}}
	m.Record(Entry{Kind: KindDisconnection})
	m.Record(Entry{Kind: KindDisconnection})
	m.Record(Entry{Kind: KindConnectionSuccess})

	if got := a.Count(KindDisconnection); got != 2 {
		t.Errorf("a disconnections = %d, want 2", got)
	}
	if got := len(b.Entries()); got != 3 {
		t.Errorf("b entries = %d, want 3", got)
	}
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "accessToken=secret")
	h.Set("User-Agent", "test-agent")

	got := RedactHeaders(h)
	if got["Authorization"] != redacted || got["Cookie"] != redacted {
		t.Errorf("credentials leaked: %v", got)
	}
	if got["User-Agent"] != "test-agent" {
		t.Errorf("User-Agent = %q", got["User-Agent"])
	}
	for _, v := range got {
		if strings.Contains(v, "secret") {
			t.Fatalf("secret found in %v", got)
		}
	}
}

func TestRedactHeaders_APIKeys(t *testing.T) {
	h := http.Header{}
	h.Set("x-api-key", "admin-secret")
	h.Set("X-Admin-Token", "custom-secret")
	h.Set("Accept", "*/*")

	got := RedactHeaders(h, "x-admin-token")
	if got["X-Api-Key"] != redacted {
		t.Errorf("X-Api-Key = %q, want redacted", got["X-Api-Key"])
	}
	if got["X-Admin-Token"] != redacted {
		t.Errorf("X-Admin-Token = %q, want redacted", got["X-Admin-Token"])
	}
	if got["Accept"] != "*/*" {
		t.Errorf("Accept = %q", got["Accept"])
	}
}

func TestRedactQuery(t *testing.T) {
	q := url.Values{"token": {"secret"}, "room": {"trip:42"}}
	got := RedactQuery(q)
	if got["token"] != redacted {
		t.Errorf("token = %q, want redacted", got["token"])
	}
	if got["room"] != "trip:42" {
		t.Errorf("room = %q", got["room"])
	}
}

type fakeStream struct {
	mu   sync.Mutex
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	f.args = append(f.args, a)
	f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("1-0")
	}
	return cmd
}

func (f *fakeStream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.args)
}

func TestRedisSink_DeliversAndFlushes(t *testing.T) {
	fs := &fakeStream{}
	sink := newRedisSink(fs, "", 8, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	sink.Record(Entry{
		Kind:      KindUnauthorizedRoomAccess,
		Severity:  SeverityMedium,
		UserID:    "u1",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Context:   map[string]any{"roomTarget": "trip:42"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for fs.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if fs.calls() != 1 {
		t.Fatalf("XAdd calls = %d, want 1", fs.calls())
	}
	a := fs.args[0]
	if a.Stream != DefaultStream {
		t.Errorf("stream = %q, want %q", a.Stream, DefaultStream)
	}
	vals := a.Values.(map[string]interface{})
	if vals["kind"] != "unauthorized-room-access" || vals["user_id"] != "u1" {
		t.Errorf("values = %v", vals)
	}
	if vals["context"] != `{"roomTarget":"trip:42"}` {
		t.Errorf("context = %v", vals["context"])
	}
}

func TestRedisSink_DropsWhenFull(t *testing.T) {
	sink := newRedisSink(&fakeStream{}, "s", 1, discardLogger())
	sink.Record(Entry{Kind: KindDisconnection})
	sink.Record(Entry{Kind: KindDisconnection})
	sink.Record(Entry{Kind: KindDisconnection})
	if got := sink.Dropped(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}

func TestRedisSink_WriteErrorCountsAsDrop(t *testing.T) {
	fs := &fakeStream{err: errors.New("boom")}
	sink := newRedisSink(fs, "s", 4, discardLogger())
	sink.Record(Entry{Kind: KindDisconnection})
	sink.Close()
	sink.Run(context.Background())
	if got := sink.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	sink.Record(Entry{Kind: KindDisconnection})
	if got := sink.Dropped(); got != 2 {
		t.Errorf("record after close: dropped = %d, want 2", got)
	}
}
