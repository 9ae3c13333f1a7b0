package dashboard

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"marketpulse/internal/metrics"
)

var errBoom = errors.New("boom")

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "metric", Value: i})
	}

	snapshot := store.snapshot(nil)
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics in snapshot, got %d", len(snapshot))
	}

	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "warning"
	entry.Data = logrus.Fields{"component": "test", "foo": "bar"}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot(nil)
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}

	if snapshot[0].Component != "test" || snapshot[0].Fields["foo"] != "bar" {
		t.Fatalf("unexpected snapshot data: %#v", snapshot[0])
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

	snapshot := store.snapshot(nil)
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", len(snapshot))
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}

	snapshot = store.snapshot(nil)
	if len(snapshot) != 2 {
		t.Fatalf("store accepted entries after close")
	}
}

func TestRingSnapshotFilters(t *testing.T) {
	r := newRing[int](10)
	for i := 1; i <= 6; i++ {
		r.add(i)
	}

	even := r.snapshot(func(v int) bool { return v%2 == 0 })
	if len(even) != 3 || even[0] != 2 || even[2] != 6 {
		t.Fatalf("unexpected filtered snapshot: %v", even)
	}

	all := r.snapshot(nil)
	all[0] = 100
	if r.snapshot(nil)[0] != 1 {
		t.Fatal("snapshot must not alias the ring's storage")
	}
}

func TestLogStoreStringifiesErrors(t *testing.T) {
	store := newLogStore(1)
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "fetch failed"
	entry.Data = logrus.Fields{"error": errBoom}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.snapshot(nil)[0].Fields["error"]; got != "boom" {
		t.Fatalf("error field = %#v, want \"boom\"", got)
	}
}
