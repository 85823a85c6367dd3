// Package event はイベントの作成・検索・更新・削除を提供する。
package event

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/eventgarden/internal/model"
	"github.com/hitoshi/eventgarden/internal/repository"
	"github.com/hitoshi/eventgarden/internal/security"
)

// UserLookup は参加イベント一覧の取得に使うユーザー検索。
type UserLookup interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// Input はイベント作成・更新の入力値。
type Input struct {
	Title       string
	Description string
	Location    string
	ScheduledAt time.Time
}

// Service はイベントに関するビジネスロジックを提供する。
type Service struct {
	events    repository.EventRepository
	users     UserLookup
	sanitizer security.ContentSanitizer
	location  *time.Location
	now       func() time.Time
}

// NewService はServiceを生成する。
// locationは日付範囲フィルタの計算に使うタイムゾーン。
func NewService(
	events repository.EventRepository,
	users UserLookup,
	sanitizer security.ContentSanitizer,
	location *time.Location,
) *Service {
	if location == nil {
		location = time.Local
	}
	return &Service{
		events:    events,
		users:     users,
		sanitizer: sanitizer,
		location:  location,
		now:       time.Now,
	}
}

// Create はhostを主催者とするイベントを作成する。参加者数は0から始まる。
func (s *Service) Create(ctx context.Context, host *model.Identity, in Input) (*model.Event, error) {
	in, err := s.sanitize(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ev := &model.Event{
		ID:            uuid.New().String(),
		Title:         in.Title,
		Description:   in.Description,
		Location:      in.Location,
		HostEmail:     host.Email,
		HostName:      host.Name,
		ScheduledAt:   in.ScheduledAt,
		AttendeeCount: 0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	slog.Info("event created",
		slog.String("event_id", ev.ID),
		slog.String("user_id", host.UserID),
	)
	return ev, nil
}

// Get は指定IDのイベントを返す。見つからない場合はnilを返す（エラーにしない）。
func (s *Service) Get(ctx context.Context, id string) (*model.Event, error) {
	ev, err := s.events.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	return ev, nil
}

// List は検索語と日付範囲フィルタでイベントを検索し、作成日時の降順で返す。
func (s *Service) List(ctx context.Context, searchText, filterType string) ([]*model.Event, error) {
	query := BuildQuery(searchText, filterType, s.now().In(s.location))

	events, err := s.events.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// ListByHost は指定メールアドレスのユーザーが主催するイベントを返す。
func (s *Service) ListByHost(ctx context.Context, email string) ([]*model.Event, error) {
	events, err := s.events.ListByHost(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to list events by host: %w", err)
	}
	return events, nil
}

// ListJoined は指定メールアドレスのユーザーが参加しているイベントを返す。
// ユーザーが存在しない場合は空のスライスを返す。
func (s *Service) ListJoined(ctx context.Context, email string) ([]*model.Event, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || len(user.JoinedEvents) == 0 {
		return []*model.Event{}, nil
	}

	events, err := s.events.ListByIDs(ctx, user.JoinedEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined events: %w", err)
	}
	return events, nil
}

// Update はイベントのタイトル・説明・場所・開催日時を更新する。
// 主催者以外はFORBIDDENを返す。
func (s *Service) Update(ctx context.Context, actor *model.Identity, id string, in Input) (*model.Event, error) {
	ev, err := s.requireHostedEvent(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	in, err = s.sanitize(in)
	if err != nil {
		return nil, err
	}

	ev.Title = in.Title
	ev.Description = in.Description
	ev.Location = in.Location
	ev.ScheduledAt = in.ScheduledAt
	ev.UpdatedAt = s.now()

	updated, err := s.events.Update(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	if !updated {
		// 確認後に削除された
		return nil, model.NewEventNotFoundError(id)
	}
	return ev, nil
}

// Delete はイベントを削除する。全ユーザーの参加集合からも取り除かれる。
// 主催者以外はFORBIDDENを返す。
func (s *Service) Delete(ctx context.Context, actor *model.Identity, id string) error {
	if _, err := s.requireHostedEvent(ctx, actor, id); err != nil {
		return err
	}

	deleted, err := s.events.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if !deleted {
		return model.NewEventNotFoundError(id)
	}

	slog.Info("event deleted",
		slog.String("event_id", id),
		slog.String("user_id", actor.UserID),
	)
	return nil
}

func (s *Service) requireHostedEvent(ctx context.Context, actor *model.Identity, id string) (*model.Event, error) {
	ev, err := s.events.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if ev == nil {
		return nil, model.NewEventNotFoundError(id)
	}
	if !ev.IsHostedBy(actor.Email) {
		return nil, model.NewForbiddenError("主催者のみがイベントを変更できます")
	}
	return ev, nil
}

// sanitize は入力値からHTMLを除去し、必須項目を検証する。
func (s *Service) sanitize(in Input) (Input, error) {
	out := Input{
		Title:       s.sanitizer.SanitizeText(in.Title),
		Description: s.sanitizer.SanitizeDescription(in.Description),
		Location:    s.sanitizer.SanitizeText(in.Location),
		ScheduledAt: in.ScheduledAt,
	}
	if out.Title == "" {
		return Input{}, model.NewValidationError("title is required")
	}
	if out.ScheduledAt.IsZero() {
		return Input{}, model.NewValidationError("scheduledAt is required")
	}
	return out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
