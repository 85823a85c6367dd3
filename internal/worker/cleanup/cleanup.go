// Package cleanup は削除済みイベントを指す参加記録の除去ジョブを提供する。
// イベント削除時の参加集合からの除去が途中で失敗した場合に残る孤立IDを
// 日次バッチで取り除く。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PrunedRecorder は除去件数の記録先。
type PrunedRecorder interface {
	RecordCleanupPruned(count int64)
}

// pruneOrphansSQL はeventsに存在しないIDをjoined_eventsから取り除く。
// 孤立IDを持つ行だけを更新し、残すIDの順序は保つ。
const pruneOrphansSQL = `UPDATE users u
SET joined_events = ARRAY(
        SELECT j.id FROM unnest(u.joined_events) WITH ORDINALITY AS j(id, ord)
        WHERE EXISTS (SELECT 1 FROM events e WHERE e.id = j.id)
        ORDER BY j.ord
    ),
    updated_at = now()
WHERE EXISTS (
    SELECT 1 FROM unnest(u.joined_events) AS j(id)
    WHERE NOT EXISTS (SELECT 1 FROM events e WHERE e.id = j.id)
)`

// CleanupJob は孤立した参加記録の除去ジョブ。冪等。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder PrunedRecorder
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder PrunedRecorder) *CleanupJob {
	return &CleanupJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
	}
}

// Name はジョブ名を返す。
func (j *CleanupJob) Name() string {
	return "cleanup"
}

// Run は孤立IDを含むユーザーの参加集合を修正する。
// 除去対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, pruneOrphansSQL)
	if err != nil {
		j.logger.Error("参加記録クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("参加記録クリーンアップの実行に失敗: %w", err)
	}

	prunedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordCleanupPruned(prunedCount)
	}

	j.logger.Info("参加記録クリーンアップジョブが完了しました",
		slog.Int64("pruned_users", prunedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
