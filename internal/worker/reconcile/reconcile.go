// Package reconcile はイベント参加者数の整合ジョブを提供する。
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Querier はSQLのQueryContextを抽象化するインターフェース。
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Recounter はイベント行をロックして参加者数を再計算する。
// repository.PostgresEventRepoが実装する。
type Recounter interface {
	RecountAttendeeCount(ctx context.Context, eventID string) (int64, error)
}

// RepairedRecorder は修復件数の記録先。
type RepairedRecorder interface {
	RecordReconcileRepaired(count int64)
}

// driftedEventsSQL は参加者数が参加集合の要素数とずれているイベントを返す。
// ここでの判定は候補の抽出のみで、書き込みはRecounterがロック下で数え直す。
const driftedEventsSQL = `SELECT e.id, e.attendee_count
FROM events e
WHERE e.attendee_count <> (
    SELECT count(*) FROM users u WHERE u.joined_events @> ARRAY[e.id]
)`

type drifted struct {
	id    string
	count int64
}

// Job は参加者数と参加集合のずれを修復するジョブ。
// 参加操作の2つの書き込みの間でプロセスが停止した場合のずれを対象とする。
type Job struct {
	db        Querier
	recounter Recounter
	logger    *slog.Logger
	recorder  RepairedRecorder
}

// NewJob は新しいJobを生成する。
func NewJob(db Querier, recounter Recounter, logger *slog.Logger, recorder RepairedRecorder) *Job {
	return &Job{db: db, recounter: recounter, logger: logger, recorder: recorder}
}

// Name はジョブ名を返す。
func (j *Job) Name() string {
	return "reconcile"
}

// Run はずれているイベントの参加者数を修復する。
// 1件の再計算に失敗しても残りのイベントは処理する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	candidates, err := j.findDrifted(ctx)
	if err != nil {
		j.logger.Error("参加者数の整合ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("参加者数の整合に失敗: %w", err)
	}

	var (
		repaired int64
		errs     []error
	)
	for _, c := range candidates {
		n, err := j.recounter.RecountAttendeeCount(ctx, c.id)
		if err != nil {
			j.logger.Error("参加者数の再計算に失敗しました",
				slog.String("event_id", c.id),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		// 抽出後に他の更新で整合済みになっていれば修復件数に含めない
		if n != c.count {
			repaired++
		}
	}

	if j.recorder != nil {
		j.recorder.RecordReconcileRepaired(repaired)
	}

	level := slog.LevelInfo
	if repaired > 0 || len(errs) > 0 {
		level = slog.LevelWarn
	}
	j.logger.Log(ctx, level, "参加者数の整合ジョブが完了しました",
		slog.Int("candidates", len(candidates)),
		slog.Int64("repaired_events", repaired),
		slog.Int("failed_events", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if len(errs) > 0 {
		return fmt.Errorf("参加者数の再計算に失敗: %w", errors.Join(errs...))
	}
	return nil
}

func (j *Job) findDrifted(ctx context.Context) ([]drifted, error) {
	rows, err := j.db.QueryContext(ctx, driftedEventsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []drifted
	for rows.Next() {
		var d drifted
		if err := rows.Scan(&d.id, &d.count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
