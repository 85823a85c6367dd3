package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// mockExecutor はExecutorのモック。クエリと引数を記録する。
type mockExecutor struct {
	execCalled bool
	query      string
	args       []interface{}
	result     sql.Result
	err        error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.execCalled = true
	m.query = query
	m.args = args
	return m.result, m.err
}

type recordedPruned struct {
	counts []int64
}

func (r *recordedPruned) RecordCleanupPruned(count int64) {
	r.counts = append(r.counts, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// logEntries はJSONログを1行ずつデコードする。
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

func TestCleanupJob_Run_PrunesOrphanIDs(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 3}}
	job := NewCleanupJob(mock, newTestLogger(&buf), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !mock.execCalled {
		t.Fatal("ExecContext が呼び出されなかった")
	}
	for _, want := range []string{"UPDATE users", "joined_events", "NOT EXISTS", "FROM events"} {
		if !strings.Contains(mock.query, want) {
			t.Errorf("クエリに %q が含まれていない: %s", want, mock.query)
		}
	}
	if len(mock.args) != 0 {
		t.Errorf("引数は不要: %v", mock.args)
	}
}

func TestCleanupJob_Run_RecordsAndLogsPrunedCount(t *testing.T) {
	var buf bytes.Buffer
	recorder := &recordedPruned{}
	job := NewCleanupJob(&mockExecutor{result: &fakeResult{rowsAffected: 42}}, newTestLogger(&buf), recorder)

	_ = job.Run(context.Background())

	if len(recorder.counts) != 1 || recorder.counts[0] != 42 {
		t.Errorf("記録された件数 = %v, want [42]", recorder.counts)
	}

	found := false
	for _, entry := range logEntries(t, &buf) {
		if entry["pruned_users"] == float64(42) {
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("ログに duration_ms が記録されていない")
			}
			found = true
		}
	}
	if !found {
		t.Errorf("ログに pruned_users=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	recorder := &recordedPruned{}
	job := NewCleanupJob(&mockExecutor{err: sql.ErrConnDone}, newTestLogger(&buf), recorder)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
	if len(recorder.counts) != 0 {
		t.Errorf("失敗時は件数を記録しない: %v", recorder.counts)
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{result: &fakeResult{rowsAffected: 0}}, newTestLogger(&buf), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("1回目の Run() がエラーを返した: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("2回目の Run() がエラーを返した: %v", err)
	}
}

func TestCleanupJob_Name(t *testing.T) {
	job := NewCleanupJob(&mockExecutor{}, slog.Default(), nil)
	if job.Name() != "cleanup" {
		t.Errorf("Name() = %q, want %q", job.Name(), "cleanup")
	}
}
