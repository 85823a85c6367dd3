package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// mockJob はJobのテスト用モック。
type mockJob struct {
	name  string
	runFn func(ctx context.Context) error
	calls atomic.Int32
}

func (m *mockJob) Name() string { return m.name }

func (m *mockJob) Run(ctx context.Context) error {
	m.calls.Add(1)
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewScheduler_SkipsNonPositiveInterval(t *testing.T) {
	var buf bytes.Buffer
	s := NewScheduler(newTestLogger(&buf),
		Schedule{Job: &mockJob{name: "valid"}, Interval: time.Minute},
		Schedule{Job: &mockJob{name: "disabled"}, Interval: 0},
	)

	if len(s.schedules) != 1 {
		t.Fatalf("登録されたジョブ数 = %d, want 1", len(s.schedules))
	}
	if !strings.Contains(buf.String(), "disabled") {
		t.Errorf("無効化したジョブがログに記録されていない: %s", buf.String())
	}
}

func TestScheduler_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	job := &mockJob{name: "reconcile"}
	s := NewScheduler(newTestLogger(&buf), Schedule{Job: job, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for job.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後にジョブが実行されなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にStartが返らなかった")
	}
}

func TestScheduler_Start_RunsOnTicker(t *testing.T) {
	var buf bytes.Buffer
	job := &mockJob{name: "cleanup"}
	s := NewScheduler(newTestLogger(&buf), Schedule{Job: job, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	for job.calls.Load() < 3 {
		select {
		case <-ctx.Done():
			t.Fatalf("ジョブの実行回数 = %d, want >= 3", job.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestScheduler_runOnce_LogsErrorAndContinues(t *testing.T) {
	var buf bytes.Buffer
	job := &mockJob{
		name:  "reconcile",
		runFn: func(ctx context.Context) error { return errors.New("db down") },
	}
	s := NewScheduler(newTestLogger(&buf), Schedule{Job: job, Interval: time.Hour})

	s.runOnce(context.Background(), job)
	s.runOnce(context.Background(), job)

	if job.calls.Load() != 2 {
		t.Errorf("実行回数 = %d, want 2", job.calls.Load())
	}
	logOutput := buf.String()
	if !strings.Contains(logOutput, "ERROR") || !strings.Contains(logOutput, "db down") {
		t.Errorf("エラーログが記録されていない: %s", logOutput)
	}
}
