package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/goleak"

	"github.com/zealscott/autoprofiler/internal/config"
	"github.com/zealscott/autoprofiler/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.msgs = append(r.msgs, p)
	return &paho.PublishResponse{}, nil
}

func (r *recordingPublisher) snapshot() []*paho.Publish {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*paho.Publish(nil), r.msgs...)
}

func testBridge(pub Publisher) *Bridge {
	b := New(config.MQTTConfig{TopicPrefix: "autoprofiler"}, "autoprofiler-test",
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.pub = pub
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventTopic(t *testing.T) {
	b := testBridge(nil)
	tests := []struct {
		name string
		e    events.Event
		want string
	}{
		{"session", events.Event{Kind: events.KindThink, Data: map[string]any{"session_id": "abc"}}, "autoprofiler/abc/think"},
		{"no session", events.Event{Kind: events.KindToolDone}, "autoprofiler/events/tool_done"},
		{"wildcards", events.Event{Kind: "a/b", Data: map[string]any{"session_id": "x+#"}}, "autoprofiler/x__/a_b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.EventTopic(tt.e); got != tt.want {
				t.Errorf("EventTopic = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	b := testBridge(pub)
	bus := events.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, bus) }()

	waitFor(t, func() bool { return bus.SubscriberCount() == 1 })

	bus.Emit(events.SourceProfiler, events.KindThink, map[string]any{"session_id": "s1", "action": "retrieval"})
	bus.Emit(events.SourceSession, events.KindSessionComplete, map[string]any{"session_id": "s1", "partial": false})

	waitFor(t, func() bool { return len(pub.snapshot()) == 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after Run, want 0", bus.SubscriberCount())
	}

	msgs := pub.snapshot()
	if msgs[0].Topic != "autoprofiler/s1/think" || msgs[0].Retain {
		t.Errorf("think publish = %q retain=%v", msgs[0].Topic, msgs[0].Retain)
	}
	if msgs[1].Topic != "autoprofiler/s1/session_complete" || !msgs[1].Retain || msgs[1].QoS != 1 {
		t.Errorf("complete publish = %q retain=%v qos=%d", msgs[1].Topic, msgs[1].Retain, msgs[1].QoS)
	}

	var e events.Event
	if err := json.Unmarshal(msgs[0].Payload, &e); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if e.Source != events.SourceProfiler || e.Data["action"] != "retrieval" {
		t.Errorf("payload = %+v", e)
	}
}

func TestRun_PublishErrorsDoNotStop(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("not connected")}
	b := testBridge(pub)
	bus := events.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, bus) }()

	waitFor(t, func() bool { return bus.SubscriberCount() == 1 })
	bus.Emit(events.SourceSession, events.KindSessionStart, map[string]any{"session_id": "s2"})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_NotConnected(t *testing.T) {
	b := testBridge(nil)
	if err := b.Run(context.Background(), events.New()); err == nil {
		t.Fatal("Run without a connection should error")
	}
}

func TestStop_NotStarted(t *testing.T) {
	if err := testBridge(nil).Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}

func TestClientID_Stable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := ClientID(dir)
	if err != nil {
		t.Fatalf("ClientID() error = %v", err)
	}
	if !strings.HasPrefix(first, "autoprofiler-") || len(first) > 23 {
		t.Errorf("ClientID() = %q, want autoprofiler- prefix within 23 chars", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, clientIDFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := ClientID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestClientID_ReplacesMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, clientIDFile)
	if err := os.WriteFile(path, []byte("not an id\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := ClientID(dir)
	if err != nil {
		t.Fatalf("ClientID() error = %v", err)
	}
	if !clientIDPattern.MatchString(id) {
		t.Errorf("ClientID() = %q, want a regenerated id", id)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}
