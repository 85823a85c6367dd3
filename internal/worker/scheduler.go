// Package worker はバックグラウンドジョブの定期実行を提供する。
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job は定期実行されるジョブ。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule はジョブと実行間隔の組。
type Schedule struct {
	Job      Job
	Interval time.Duration
}

// Scheduler は複数のジョブをそれぞれの間隔で実行する。
type Scheduler struct {
	schedules []Schedule
	logger    *slog.Logger
}

// NewScheduler はSchedulerを生成する。間隔が0以下のジョブは登録しない。
func NewScheduler(logger *slog.Logger, schedules ...Schedule) *Scheduler {
	s := &Scheduler{logger: logger}
	for _, sc := range schedules {
		if sc.Interval <= 0 {
			logger.Warn("実行間隔が不正なためジョブを無効化しました",
				slog.String("job", sc.Job.Name()),
				slog.Duration("interval", sc.Interval),
			)
			continue
		}
		s.schedules = append(s.schedules, sc)
	}
	return s
}

// Start は全ジョブを起動し、コンテキストがキャンセルされるまでブロックする。
// 各ジョブは起動直後に1回実行される。
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sc := range s.schedules {
		wg.Add(1)
		go func(sc Schedule) {
			defer wg.Done()
			s.loop(ctx, sc)
		}(sc)
	}
	wg.Wait()
	s.logger.Info("ジョブスケジューラを停止しました")
}

func (s *Scheduler) loop(ctx context.Context, sc Schedule) {
	ticker := time.NewTicker(sc.Interval)
	defer ticker.Stop()

	s.logger.Info("ジョブを開始しました",
		slog.String("job", sc.Job.Name()),
		slog.Duration("interval", sc.Interval),
	)

	s.runOnce(ctx, sc.Job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, sc.Job)
		}
	}
}

// runOnce はジョブを1回実行する。失敗はログに記録し、次回の実行を妨げない。
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if err := job.Run(ctx); err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", job.Name()),
			slog.String("error", err.Error()),
		)
	}
}
