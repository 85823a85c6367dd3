package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/eventgarden/internal/model"
)

const (
	testUserID  = "6f1c2f4e-3a59-4a8e-9a59-2b8f0b6f1a11"
	testEventID = "0d8a3c1e-7f0b-4b55-8d8e-5c4a1f2b3c44"
)

func newUserRepoWithMock(t *testing.T) (*PostgresUserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresUserRepo(db), mock
}

func userRow(joined string) *sqlmock.Rows {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "email", "name", "photo_url", "password_hash", "joined_events", "created_at", "updated_at",
	}).AddRow(testUserID, "a@x.com", "Alice", "https://img.example.com/a.png", "$2a$10$hash", joined, now, now)
}

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestPostgresUserRepo_FindByEmail_ParsesJoinedEvents(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("A@X.com").
		WillReturnRows(userRow("{" + testEventID + "}"))

	user, err := repo.FindByEmail(context.Background(), "A@X.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "a@x.com", user.Email)
	require.Equal(t, []string{testEventID}, user.JoinedEvents)
	require.True(t, user.HasJoined(testEventID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_FindByEmail_EmptySet_ReturnsEmptySlice(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE lower\(email\)`).
		WithArgs("a@x.com").
		WillReturnRows(userRow("{}"))

	user, err := repo.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, user.JoinedEvents)
	require.Empty(t, user.JoinedEvents)
}

func TestPostgresUserRepo_FindByEmail_NotFound_ReturnsNil(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE lower\(email\)`).
		WithArgs("nobody@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	user, err := repo.FindByEmail(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	require.Nil(t, user)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_FindByID_InvalidUUID_SkipsQuery(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	user, err := repo.FindByID(context.Background(), "not-a-uuid")
	require.NoError(t, err)
	require.Nil(t, user)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_Create_DuplicateEmail_ReturnsErrDuplicateEmail(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &model.User{
		ID:    testUserID,
		Email: "a@x.com",
		Name:  "Alice",
	})
	require.ErrorIs(t, err, ErrDuplicateEmail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_Create_OtherError_IsWrapped(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO users`).WillReturnError(errors.New("connection reset"))

	err := repo.Create(context.Background(), &model.User{ID: testUserID, Email: "a@x.com"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicateEmail)
	require.Contains(t, err.Error(), "connection reset")
}

func TestPostgresUserRepo_AddJoinedEvent_ReportsStateChange(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectExec(`UPDATE users\s+SET joined_events = array_append\(joined_events, \$2::uuid\).*NOT \(\$2::uuid = ANY\(joined_events\)\)`).
		WithArgs(testUserID, testEventID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users\s+SET joined_events = array_append`).
		WithArgs(testUserID, testEventID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.AddJoinedEvent(context.Background(), testUserID, testEventID)
	require.NoError(t, err)
	require.True(t, changed, "1回目の追加は状態を変更する")

	changed, err = repo.AddJoinedEvent(context.Background(), testUserID, testEventID)
	require.NoError(t, err)
	require.False(t, changed, "2回目の追加は何も変更しない")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_RemoveJoinedEvent_Absent_NoChange(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectExec(`UPDATE users\s+SET joined_events = array_remove\(joined_events, \$2::uuid\)`).
		WithArgs(testUserID, testEventID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.RemoveJoinedEvent(context.Background(), testUserID, testEventID)
	require.NoError(t, err)
	require.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepo_HasJoinedEvent(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(testUserID, testEventID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	joined, err := repo.HasJoinedEvent(context.Background(), testUserID, testEventID)
	require.NoError(t, err)
	require.True(t, joined)
}

func TestPostgresUserRepo_MembershipOps_InvalidIDs_AreNoOps(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	ctx := context.Background()

	changed, err := repo.AddJoinedEvent(ctx, testUserID, "bogus")
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = repo.RemoveJoinedEvent(ctx, "bogus", testEventID)
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, mock.ExpectationsWereMet())
}
