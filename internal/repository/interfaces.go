// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/eventgarden/internal/model"
)

// ErrDuplicateEmail は同じメールアドレスのユーザーが既に存在する場合に返される。
var ErrDuplicateEmail = errors.New("repository: duplicate email")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが一意制約に違反した場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	UserMembershipRepository
}

// UserMembershipRepository はユーザーの参加イベント集合に対する単一行アトミック操作。
type UserMembershipRepository interface {
	// AddJoinedEvent は参加集合にeventIDを追加する。
	// 既に含まれている場合（またはユーザーが存在しない場合）は何もせずfalseを返す。
	AddJoinedEvent(ctx context.Context, userID, eventID string) (bool, error)

	// RemoveJoinedEvent は参加集合からeventIDを取り除く。
	// 含まれていない場合は何もせずfalseを返す。
	RemoveJoinedEvent(ctx context.Context, userID, eventID string) (bool, error)

	// HasJoinedEvent は参加集合にeventIDが含まれるかを返す。
	HasJoinedEvent(ctx context.Context, userID, eventID string) (bool, error)
}

// EventRepository はイベントデータの永続化インターフェース。
type EventRepository interface {
	// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Event, error)

	// List は検索条件に一致するイベントをcreated_at降順で返す。
	List(ctx context.Context, query model.EventQuery) ([]*model.Event, error)

	// ListByHost は指定主催者のイベントをcreated_at降順で返す。
	ListByHost(ctx context.Context, hostEmail string) ([]*model.Event, error)

	// ListByIDs は指定IDのイベントをcreated_at降順で返す。存在しないIDは無視する。
	ListByIDs(ctx context.Context, ids []string) ([]*model.Event, error)

	// Create はイベントを作成する。
	Create(ctx context.Context, event *model.Event) error

	// Update はタイトル、説明、場所、開催日時を更新する。
	// 見つからない場合はfalseを返す。
	Update(ctx context.Context, event *model.Event) (bool, error)

	// DeleteByID はイベントを削除し、全ユーザーの参加集合からも取り除く。
	// 見つからない場合はfalseを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)

	EventCounterRepository
}

// EventCounterRepository はイベントの参加者カウンタに対する操作。
type EventCounterRepository interface {
	// IncrementAttendeeCount は参加者数を1増やす。
	IncrementAttendeeCount(ctx context.Context, eventID string) error

	// DecrementAttendeeCount は参加者数を1減らす。0未満にはならない。
	DecrementAttendeeCount(ctx context.Context, eventID string) error

	// RecountAttendeeCount はイベント行をロックしたうえで参加者数を参加集合の要素数に
	// 置き換え、新しい値を返す。
	RecountAttendeeCount(ctx context.Context, eventID string) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
