package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/iotrelay/internal/alert"
)

type recordingNotifier struct {
	alerts   []alert.Alert
	messages []Message
	err      error
}

func (r *recordingNotifier) NotifyAlert(_ context.Context, a alert.Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingNotifier) Notify(_ context.Context, m Message) error {
	r.messages = append(r.messages, m)
	return r.err
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	a := &recordingNotifier{err: errA}
	b := &recordingNotifier{}
	m := NewMulti(a, nil, b)

	if len(m) != 2 {
		t.Fatalf("len(Multi) = %d, want 2 (nil skipped)", len(m))
	}

	err := m.NotifyAlert(context.Background(), alert.Alert{ID: "x"})
	if !errors.Is(err, errA) {
		t.Errorf("NotifyAlert() error = %v, want joined errA", err)
	}
	if len(a.alerts) != 1 || len(b.alerts) != 1 {
		t.Errorf("delivered = %d/%d, want 1/1", len(a.alerts), len(b.alerts))
	}

	a.err = nil
	if err := m.Notify(context.Background(), Message{Text: "hi"}); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
	if len(b.messages) != 1 {
		t.Errorf("messages = %d, want 1", len(b.messages))
	}
}

func TestEventKey(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"device alert", AlertEvent(alert.Alert{DeviceID: "pump-1"}), "pump-1"},
		{"system alert", AlertEvent(alert.Alert{}), "system"},
		{"device notification", MessageEvent(Message{DeviceID: "fan-1"}), "fan-1"},
		{"task notification", MessageEvent(Message{TaskID: "t"}), "system"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	k := newKafkaNotifier(w, "iot.alerts", nil)
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	a := alert.Alert{ID: "a1", Timestamp: ts, Level: alert.LevelCritical, Message: "fire", DeviceID: "smoke-1", Source: alert.SourceSystem}
	if err := k.NotifyAlert(context.Background(), a); err != nil {
		t.Fatalf("NotifyAlert() error = %v", err)
	}
	if err := k.Notify(context.Background(), Message{Timestamp: ts, Text: "daily", TaskID: "t1"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(w.msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(w.msgs))
	}
	first := w.msgs[0]
	if string(first.Key) != "smoke-1" || !first.Time.Equal(ts) {
		t.Errorf("key/time = %q/%v", first.Key, first.Time)
	}
	if len(first.Headers) != 1 || string(first.Headers[0].Value) != KindAlert {
		t.Errorf("headers = %+v", first.Headers)
	}

	var ev Event
	if err := json.Unmarshal(first.Value, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != KindAlert || ev.Alert == nil || ev.Alert.Level != alert.LevelCritical {
		t.Errorf("event = %+v", ev)
	}
	if string(w.msgs[1].Key) != "system" {
		t.Errorf("notification key = %q, want system", w.msgs[1].Key)
	}

	w.err = errors.New("leader not available")
	if err := k.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, w.err) {
		t.Errorf("write failure error = %v", err)
	}

	if err := k.Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}

func TestNewKafkaNotifierConfig(t *testing.T) {
	if _, err := NewKafkaNotifier(KafkaConfig{Topic: "t"}, nil); !errors.Is(err, ErrKafkaDisabled) {
		t.Errorf("no brokers error = %v, want ErrKafkaDisabled", err)
	}
	if _, err := NewKafkaNotifier(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil); err == nil {
		t.Error("missing topic error = nil")
	}
	k, err := NewKafkaNotifier(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "iot.alerts"}, nil)
	if err != nil {
		t.Fatalf("NewKafkaNotifier() error = %v", err)
	}
	_ = k.Close()
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	if err := n.NotifyAlert(context.Background(), alert.Alert{}); err != nil {
		t.Errorf("NotifyAlert() error = %v", err)
	}
	if err := n.Notify(context.Background(), Message{}); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
}
