package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MtkN1/pybybit/internal/metrics"
)

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "frames", Value: i})
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics in snapshot, got %d", len(snapshot))
	}
	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
}

func TestHistoryDefaultLimit(t *testing.T) {
	h := newHistory[int](0)
	for i := 0; i < defaultHistory+10; i++ {
		h.add(i)
	}
	snapshot := h.snapshot()
	if len(snapshot) != defaultHistory {
		t.Fatalf("expected %d items, got %d", defaultHistory, len(snapshot))
	}
	if snapshot[0] != 10 {
		t.Fatalf("oldest retained item = %d, want 10", snapshot[0])
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "stream reset"
	entry.Data = logrus.Fields{"component": "stream", "connection": "inverse"}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}
	if snapshot[0].Component != "stream" || snapshot[0].Fields["connection"] != "inverse" {
		t.Fatalf("unexpected snapshot data: %#v", snapshot[0])
	}
	if _, ok := snapshot[0].Fields["component"]; ok {
		t.Fatal("component duplicated into fields")
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(store.snapshot()); got != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", got)
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}
	if got := len(store.snapshot()); got != 2 {
		t.Fatalf("store accepted entries after close")
	}
}

func TestLogStoreFilterByLevelAndComponent(t *testing.T) {
	store := newLogStore(10)
	fire := func(level logrus.Level, component, msg string) {
		entry := logrus.NewEntry(logrus.New())
		entry.Level = level
		entry.Message = msg
		entry.Data = logrus.Fields{"component": component}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("Fire: %v", err)
		}
	}
	fire(logrus.InfoLevel, "stream", "streaming")
	fire(logrus.WarnLevel, "stream", "heartbeat failed")
	fire(logrus.ErrorLevel, "rest", "initialize failed")

	warnings := store.filter(logrus.WarnLevel, "")
	if len(warnings) != 2 || warnings[0].Message != "heartbeat failed" {
		t.Fatalf("unexpected warn-and-above records: %#v", warnings)
	}
	streamOnly := store.filter(logrus.TraceLevel, "stream")
	if len(streamOnly) != 2 {
		t.Fatalf("expected 2 stream records, got %d", len(streamOnly))
	}
	if len(store.snapshot()) != 3 {
		t.Fatal("filter must not drop retained records")
	}
}
