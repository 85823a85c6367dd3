package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/eventgarden/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = "23505"

const userColumns = `id, email, name, photo_url, password_hash, joined_events, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !isUUID(id) {
		return nil, nil
	}
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	joined := user.JoinedEvents
	if joined == nil {
		joined = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, photo_url, password_hash, joined_events, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::uuid[], $7, $8)`,
		user.ID, user.Email, user.Name, user.PhotoURL, user.PasswordHash,
		pq.Array(joined), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// AddJoinedEvent は参加集合にeventIDを追加する。
// 既に含まれている行は更新対象外となるため、集合に重複は生じない。
func (r *PostgresUserRepo) AddJoinedEvent(ctx context.Context, userID, eventID string) (bool, error) {
	if !isUUID(userID) || !isUUID(eventID) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET joined_events = array_append(joined_events, $2::uuid), updated_at = now()
		 WHERE id = $1 AND NOT ($2::uuid = ANY(joined_events))`,
		userID, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add joined event: %w", err)
	}
	return changedOne(result)
}

// RemoveJoinedEvent は参加集合からeventIDを取り除く。
func (r *PostgresUserRepo) RemoveJoinedEvent(ctx context.Context, userID, eventID string) (bool, error) {
	if !isUUID(userID) || !isUUID(eventID) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET joined_events = array_remove(joined_events, $2::uuid), updated_at = now()
		 WHERE id = $1 AND $2::uuid = ANY(joined_events)`,
		userID, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove joined event: %w", err)
	}
	return changedOne(result)
}

// HasJoinedEvent は参加集合にeventIDが含まれるかを返す。
func (r *PostgresUserRepo) HasJoinedEvent(ctx context.Context, userID, eventID string) (bool, error) {
	if !isUUID(userID) || !isUUID(eventID) {
		return false, nil
	}
	var joined bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND $2::uuid = ANY(joined_events))`,
		userID, eventID,
	).Scan(&joined)
	if err != nil {
		return false, fmt.Errorf("failed to check joined event: %w", err)
	}
	return joined, nil
}

// scanUser は1行分のユーザーを読み取る。行がない場合はnilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var joined []string
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.PhotoURL, &user.PasswordHash,
		pq.Array(&joined), &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if joined == nil {
		joined = []string{}
	}
	user.JoinedEvents = joined
	return user, nil
}

// changedOne はUPDATEが1行以上に作用したかを返す。
func changedOne(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// isUUID はidがUUIDとして解釈できるかを返す。
// 不正なIDはストアに渡さず「見つからない」として扱う。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
