package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/eventgarden/internal/model"
)

const eventColumns = `id, title, description, location, host_email, host_name, scheduled_at, attendee_count, created_at, updated_at`

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	if !isUUID(id) {
		return nil, nil
	}
	event := &model.Event{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	).Scan(eventScanDest(event)...)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event by ID: %w", err)
	}
	return event, nil
}

// List は検索条件に一致するイベントをcreated_at降順で返す。
func (r *PostgresEventRepo) List(ctx context.Context, query model.EventQuery) ([]*model.Event, error) {
	where, args := buildEventWhere(query)
	sqlText := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY created_at DESC`
	return r.queryEvents(ctx, sqlText, args...)
}

// ListByHost は指定主催者のイベントをcreated_at降順で返す。
func (r *PostgresEventRepo) ListByHost(ctx context.Context, hostEmail string) ([]*model.Event, error) {
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE lower(host_email) = lower($1) ORDER BY created_at DESC`,
		hostEmail,
	)
}

// ListByIDs は指定IDのイベントをcreated_at降順で返す。
func (r *PostgresEventRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.Event, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []*model.Event{}, nil
	}
	return r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ANY($1::uuid[]) ORDER BY created_at DESC`,
		pq.Array(valid),
	)
}

// Create はイベントを作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, title, description, location, host_email, host_name, scheduled_at, attendee_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.Title, event.Description, event.Location, event.HostEmail, event.HostName,
		event.ScheduledAt, event.AttendeeCount, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Update はタイトル、説明、場所、開催日時を更新する。
// 主催者情報と参加者数は変更しない。
func (r *PostgresEventRepo) Update(ctx context.Context, event *model.Event) (bool, error) {
	if !isUUID(event.ID) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE events
		 SET title = $2, description = $3, location = $4, scheduled_at = $5, updated_at = $6
		 WHERE id = $1`,
		event.ID, event.Title, event.Description, event.Location, event.ScheduledAt, event.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update event: %w", err)
	}
	return changedOne(result)
}

// DeleteByID はイベントを削除し、全ユーザーの参加集合からも同一トランザクションで取り除く。
func (r *PostgresEventRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete event: %w", err)
	}
	deleted, err := changedOne(result)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET joined_events = array_remove(joined_events, $1::uuid), updated_at = now()
		 WHERE $1::uuid = ANY(joined_events)`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove event from joined sets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// IncrementAttendeeCount は参加者数をアトミックに1増やす。
func (r *PostgresEventRepo) IncrementAttendeeCount(ctx context.Context, eventID string) error {
	if !isUUID(eventID) {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET attendee_count = attendee_count + 1 WHERE id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment attendee count: %w", err)
	}
	return nil
}

// DecrementAttendeeCount は参加者数をアトミックに1減らす。0で下げ止まる。
func (r *PostgresEventRepo) DecrementAttendeeCount(ctx context.Context, eventID string) error {
	if !isUUID(eventID) {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET attendee_count = GREATEST(attendee_count - 1, 0) WHERE id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to decrement attendee count: %w", err)
	}
	return nil
}

// RecountAttendeeCount は参加者数を参加集合の要素数で置き換え、新しい値を返す。
//
// イベント行をFOR UPDATEでロックしてから数えるため、同じイベントへの再計算は直列化され、
// 集計は行ロック取得後のスナップショットで行われる。
// イベントが存在しない場合は0を返す。
func (r *PostgresEventRepo) RecountAttendeeCount(ctx context.Context, eventID string) (int64, error) {
	if !isUUID(eventID) {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock event: %w", err)
	}

	var count int64
	err = tx.QueryRowContext(ctx,
		`UPDATE events SET attendee_count = (
			SELECT count(*) FROM users WHERE joined_events @> ARRAY[$1::uuid]
		 ) WHERE id = $1 RETURNING attendee_count`,
		eventID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to recount attendee count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit recount: %w", err)
	}
	return count, nil
}

func (r *PostgresEventRepo) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*model.Event{}
	for rows.Next() {
		event := &model.Event{}
		if err := rows.Scan(eventScanDest(event)...); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func eventScanDest(e *model.Event) []interface{} {
	return []interface{}{
		&e.ID, &e.Title, &e.Description, &e.Location, &e.HostEmail, &e.HostName,
		&e.ScheduledAt, &e.AttendeeCount, &e.CreatedAt, &e.UpdatedAt,
	}
}

// buildEventWhere はEventQueryからWHERE句とプレースホルダ引数を組み立てる。
func buildEventWhere(query model.EventQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if query.TitleContains != "" {
		args = append(args, "%"+escapeLike(query.TitleContains)+"%")
		conds = append(conds, fmt.Sprintf("title ILIKE $%d", len(args)))
	}
	if query.Scheduled != nil {
		args = append(args, query.Scheduled.Start)
		conds = append(conds, fmt.Sprintf("scheduled_at >= $%d", len(args)))
		args = append(args, query.Scheduled.End)
		conds = append(conds, fmt.Sprintf("scheduled_at < $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
