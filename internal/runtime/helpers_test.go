package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	configpkg "github.com/drblury/widgetbus/internal/runtime/config"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/transporttest"
)

var (
	speedTopic = transport.Topic{Name: "/speed", Type: "std_msgs/msg/Float64"}
	cmdTopic   = transport.Topic{Name: "/cmd", Type: "std_msgs/msg/Float64"}
	resetSrv   = transport.Service{Name: "/reset", Type: "std_srvs/srv/Trigger"}
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	base    loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.mu.Lock()
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
	l.mu.Unlock()
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: l.mu, entries: l.entries, base: merged}
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}

func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *recordingLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range *l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

// manualScheduler queues replays until run is called.
type manualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

func (s *manualScheduler) schedule(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
}

func (s *manualScheduler) run() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, fn := range queue {
		fn()
	}
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

type testRuntime struct {
	*Runtime
	client *transporttest.FakeClient
	sched  *manualScheduler
	logs   *recordingLogger
}

func newTestRuntime(t *testing.T, tweak ...func(*configpkg.Config, *Dependencies)) *testRuntime {
	t.Helper()
	client := transporttest.NewFakeClient()
	sched := &manualScheduler{}
	logs := newRecordingLogger()
	conf := &configpkg.Config{Transport: "channel"}
	deps := Dependencies{Client: client, Scheduler: sched.schedule}
	for _, fn := range tweak {
		fn(conf, &deps)
	}
	rt, err := NewRuntime(context.Background(), conf, logs, deps)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return &testRuntime{Runtime: rt, client: client, sched: sched, logs: logs}
}

// recorder collects values delivered to a store consumer.
type recorder struct {
	mu     sync.Mutex
	values []any
}

func (r *recorder) add(v any) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

func widgetTree(instance string, config map[string]any) map[string]any {
	return map[string]any{
		instance: map[string]any{
			"widget": map[string]any{"name": "Test", "config": config},
		},
	}
}

func subscriberEntry(topic transport.Topic, field string) map[string]any {
	return map[string]any{
		"type":       "subscriber",
		"topic":      map[string]any{"name": topic.Name, "type": topic.Type},
		"topicField": field,
	}
}

func testTimeout() <-chan time.Time {
	return time.After(2 * time.Second)
}
