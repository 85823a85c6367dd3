// Package membership はユーザーの参加集合とイベントの参加者数を連動して更新する。
//
// 参加集合（users.joined_events）が正であり、参加者数（events.attendee_count）は
// その派生値として扱う。conditionalモードでは参加者数をイベント行ロック下で
// 参加集合から再計算し、rawモードでは無条件に増減する。
// 2つの書き込みの間で失敗した場合のずれは worker/reconcile が修復する。
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/eventgarden/internal/metrics"
	"github.com/hitoshi/eventgarden/internal/model"
	"github.com/hitoshi/eventgarden/internal/notify"
)

// 参加者数の更新ポリシー
const (
	// CounterModeConditional は参加集合が実際に変化した場合のみ参加者数を更新する。
	CounterModeConditional = "conditional"
	// CounterModeRaw は参加集合と参加者数を無条件に並行更新する。
	CounterModeRaw = "raw"
)

// 操作名（メトリクスラベル・スパン名）
const (
	opJoin                = "join"
	opLeave               = "leave"
	opAddToJoinedSet      = "add_to_joined_set"
	opRemoveFromJoinedSet = "remove_from_joined_set"
	opIncrementCount      = "increment_count"
	opDecrementCount      = "decrement_count"
)

const tracerName = "github.com/hitoshi/eventgarden/internal/membership"

// MembershipSet はユーザーの参加集合に対する操作。
type MembershipSet interface {
	AddJoinedEvent(ctx context.Context, userID, eventID string) (bool, error)
	RemoveJoinedEvent(ctx context.Context, userID, eventID string) (bool, error)
	HasJoinedEvent(ctx context.Context, userID, eventID string) (bool, error)
}

// AttendeeCounter はイベントの参加者数に対する操作。
// RecountAttendeeCountは同じイベントに対して直列化されていなければならない。
type AttendeeCounter interface {
	IncrementAttendeeCount(ctx context.Context, eventID string) error
	DecrementAttendeeCount(ctx context.Context, eventID string) error
	RecountAttendeeCount(ctx context.Context, eventID string) (int64, error)
}

// EventLookup はイベントの存在確認に使う。
type EventLookup interface {
	FindByID(ctx context.Context, id string) (*model.Event, error)
}

// Config はCoordinatorの動作設定。
type Config struct {
	CounterMode   string
	AllowHostJoin bool
}

// Result は参加操作の結果。
type Result struct {
	// Changed は参加集合が実際に変化したかを示す。
	Changed bool `json:"changed"`
	// AttendeeCount は操作後の参加者数。再取得に失敗した場合はnil。
	AttendeeCount *int `json:"attendeeCount,omitempty"`
}

// Coordinator は参加・離脱操作を実行する。
type Coordinator struct {
	sets      MembershipSet
	counters  AttendeeCounter
	events    EventLookup
	publisher notify.Publisher
	metrics   metrics.MetricsCollector
	tracer    trace.Tracer
	cfg       Config
	now       func() time.Time
}

// NewCoordinator はCoordinatorを生成する。
// publisherとmcがnilの場合は何もしない実装を使う。
func NewCoordinator(
	sets MembershipSet,
	counters AttendeeCounter,
	events EventLookup,
	publisher notify.Publisher,
	mc metrics.MetricsCollector,
	cfg Config,
) *Coordinator {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if cfg.CounterMode == "" {
		cfg.CounterMode = CounterModeConditional
	}
	return &Coordinator{
		sets:      sets,
		counters:  counters,
		events:    events,
		publisher: publisher,
		metrics:   mc,
		tracer:    otel.Tracer(tracerName),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Join はactorをイベントに参加させる。
// 主催者の参加がポリシーで禁止されている場合はHOST_CANNOT_JOINを返す。
func (c *Coordinator) Join(ctx context.Context, actor *model.Identity, eventID string) (result *Result, err error) {
	ctx, finish := c.begin(ctx, opJoin, actor.UserID, eventID)
	defer func() { finish(result, err) }()

	ev, err := c.requireEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !c.cfg.AllowHostJoin && ev.IsHostedBy(actor.Email) {
		return nil, model.NewHostCannotJoinError()
	}

	storeCtx := context.WithoutCancel(ctx)
	changed, err := c.mutate(storeCtx, actor.UserID, eventID, c.sets.AddJoinedEvent, c.counters.IncrementAttendeeCount)
	if err != nil {
		return nil, err
	}

	if changed {
		c.publish(storeCtx, notify.SubjectJoined, actor.UserID, eventID)
	}
	return c.result(storeCtx, eventID, changed), nil
}

// Leave はユーザーをイベントから離脱させる。参加していない場合も成功する。
func (c *Coordinator) Leave(ctx context.Context, userID, eventID string) (result *Result, err error) {
	ctx, finish := c.begin(ctx, opLeave, userID, eventID)
	defer func() { finish(result, err) }()

	if _, err := c.requireEvent(ctx, eventID); err != nil {
		return nil, err
	}

	storeCtx := context.WithoutCancel(ctx)
	changed, err := c.mutate(storeCtx, userID, eventID, c.sets.RemoveJoinedEvent, c.counters.DecrementAttendeeCount)
	if err != nil {
		return nil, err
	}

	if changed {
		c.publish(storeCtx, notify.SubjectLeft, userID, eventID)
	}
	return c.result(storeCtx, eventID, changed), nil
}

// IsJoined はユーザーの参加集合のみを参照して参加状態を返す。
func (c *Coordinator) IsJoined(ctx context.Context, userID, eventID string) (bool, error) {
	joined, err := c.sets.HasJoinedEvent(ctx, userID, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return joined, nil
}

// AddToJoinedSet は参加集合への追加のみを行う。参加者数は更新しない。
// actorは自分自身の参加集合のみ変更できる。
func (c *Coordinator) AddToJoinedSet(ctx context.Context, actor *model.Identity, userID, eventID string) (result *Result, err error) {
	ctx, finish := c.begin(ctx, opAddToJoinedSet, userID, eventID)
	defer func() { finish(result, err) }()

	if actor.UserID != userID {
		return nil, model.NewForbiddenError("他のユーザーの参加状態は変更できません")
	}
	ev, err := c.requireEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !c.cfg.AllowHostJoin && ev.IsHostedBy(actor.Email) {
		return nil, model.NewHostCannotJoinError()
	}

	storeCtx := context.WithoutCancel(ctx)
	changed, err := c.sets.AddJoinedEvent(storeCtx, userID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to add joined event: %w", err)
	}
	if changed {
		c.publish(storeCtx, notify.SubjectJoined, userID, eventID)
	}
	return &Result{Changed: changed}, nil
}

// RemoveFromJoinedSet は参加集合からの削除のみを行う。参加者数は更新しない。
func (c *Coordinator) RemoveFromJoinedSet(ctx context.Context, actor *model.Identity, userID, eventID string) (result *Result, err error) {
	ctx, finish := c.begin(ctx, opRemoveFromJoinedSet, userID, eventID)
	defer func() { finish(result, err) }()

	if actor.UserID != userID {
		return nil, model.NewForbiddenError("他のユーザーの参加状態は変更できません")
	}

	storeCtx := context.WithoutCancel(ctx)
	changed, err := c.sets.RemoveJoinedEvent(storeCtx, userID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove joined event: %w", err)
	}
	if changed {
		c.publish(storeCtx, notify.SubjectLeft, userID, eventID)
	}
	return &Result{Changed: changed}, nil
}

// IncrementCount は参加者数を更新する。
// rawモードでは無条件に1増やし、conditionalモードでは参加集合の要素数から再計算する。
func (c *Coordinator) IncrementCount(ctx context.Context, eventID string) (result *Result, err error) {
	ctx, finish := c.begin(ctx, opIncrementCount, "", eventID)
	defer func() { finish(result, err) }()

	return c.adjustCount(ctx, eventID, c.counters.IncrementAttendeeCount)
}

// DecrementCount は参加者数を更新する。0未満にはならない。
// rawモードでは無条件に1減らし、conditionalモードでは参加集合の要素数から再計算する。
func (c *Coordinator) DecrementCount(ctx context.Context, eventID string) (result *Result, err error) {
	ctx, finish := c.begin(ctx, opDecrementCount, "", eventID)
	defer func() { finish(result, err) }()

	return c.adjustCount(ctx, eventID, c.counters.DecrementAttendeeCount)
}

func (c *Coordinator) adjustCount(ctx context.Context, eventID string, blind func(context.Context, string) error) (*Result, error) {
	if _, err := c.requireEvent(ctx, eventID); err != nil {
		return nil, err
	}

	storeCtx := context.WithoutCancel(ctx)
	if c.cfg.CounterMode == CounterModeRaw {
		if err := blind(storeCtx, eventID); err != nil {
			return nil, fmt.Errorf("failed to update attendee count: %w", err)
		}
		return c.result(storeCtx, eventID, true), nil
	}

	n, err := c.counters.RecountAttendeeCount(storeCtx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to recount attendee count: %w", err)
	}
	count := int(n)
	return &Result{Changed: true, AttendeeCount: &count}, nil
}

// mutate は参加集合と参加者数を更新ポリシーに従って更新する。
// counterOpはrawモードでのみ使い、conditionalモードでは参加者数を再計算する。
// 戻り値は参加集合が変化したかどうか。
func (c *Coordinator) mutate(
	ctx context.Context,
	userID, eventID string,
	setOp func(context.Context, string, string) (bool, error),
	counterOp func(context.Context, string) error,
) (bool, error) {
	if c.cfg.CounterMode == CounterModeRaw {
		var (
			g       errgroup.Group
			changed bool
		)
		g.Go(func() error {
			var err error
			changed, err = setOp(ctx, userID, eventID)
			if err != nil {
				return fmt.Errorf("failed to update joined events: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := counterOp(ctx, eventID); err != nil {
				return fmt.Errorf("failed to update attendee count: %w", err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return false, err
		}
		return changed, nil
	}

	changed, err := setOp(ctx, userID, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to update joined events: %w", err)
	}
	if !changed {
		return false, nil
	}
	if _, err := c.counters.RecountAttendeeCount(ctx, eventID); err != nil {
		// 参加集合は更新済み。参加者数のずれはreconcileジョブで修復される
		slog.Warn("attendee count update failed after membership change",
			slog.String("user_id", userID),
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return true, fmt.Errorf("failed to update attendee count: %w", err)
	}
	return true, nil
}

func (c *Coordinator) requireEvent(ctx context.Context, eventID string) (*model.Event, error) {
	ev, err := c.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if ev == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}
	return ev, nil
}

// result は操作後の参加者数を再取得してResultを組み立てる。
func (c *Coordinator) result(ctx context.Context, eventID string, changed bool) *Result {
	r := &Result{Changed: changed}
	ev, err := c.events.FindByID(ctx, eventID)
	if err != nil || ev == nil {
		slog.Warn("failed to reload attendee count",
			slog.String("event_id", eventID),
		)
		return r
	}
	count := ev.AttendeeCount
	r.AttendeeCount = &count
	return r
}

func (c *Coordinator) publish(ctx context.Context, subject, userID, eventID string) {
	err := c.publisher.Publish(ctx, notify.MembershipEvent{
		Type:       subject,
		EventID:    eventID,
		UserID:     userID,
		OccurredAt: c.now(),
	})
	if err != nil {
		slog.Warn("failed to publish membership event",
			slog.String("subject", subject),
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
}

// begin はスパンを開始し、終了時にスパン・メトリクス・ログを記録する関数を返す。
func (c *Coordinator) begin(ctx context.Context, op, userID, eventID string) (context.Context, func(*Result, error)) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "membership."+op, trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("user.id", userID),
		attribute.String("membership.counter_mode", c.cfg.CounterMode),
	))

	return ctx, func(result *Result, err error) {
		defer span.End()
		c.metrics.RecordMembershipLatency(op, time.Since(start))

		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.metrics.RecordMembershipOperation(op, metrics.ResultError)
		case result != nil && result.Changed:
			span.SetAttributes(attribute.Bool("membership.changed", true))
			c.metrics.RecordMembershipOperation(op, metrics.ResultChanged)
		default:
			span.SetAttributes(attribute.Bool("membership.changed", false))
			c.metrics.RecordMembershipOperation(op, metrics.ResultUnchanged)
		}
	}
}
