// Package auth はアカウント登録・ログイン、セッショントークンの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/eventgarden/internal/model"
	"github.com/hitoshi/eventgarden/internal/repository"
)

// UserStore はアカウントサービスが必要とするユーザーストアの操作。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
}

// SessionIssuer はセッショントークンの発行と失効を行う。
type SessionIssuer interface {
	Issue(ctx context.Context, identity model.Identity) (string, time.Time, error)
	Revoke(ctx context.Context, token string) error
}

// SignupInput はアカウント登録の入力値。
type SignupInput struct {
	Name     string
	Email    string
	Password string
	PhotoURL string
}

// Session はログイン成功時に返すユーザーとトークン。
type Session struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// Service はアカウントに関するビジネスロジックを提供する。
type Service struct {
	users    UserStore
	sessions SessionIssuer
	hasher   PasswordHasher
}

// NewService はServiceを生成する。
func NewService(users UserStore, sessions SessionIssuer, hasher PasswordHasher) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
	}
}

// NormalizeEmail はメールアドレスを前後空白除去・小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Signup はアカウントを作成し、セッションを発行する。
// 同じメールアドレスが登録済みの場合はEMAIL_IN_USEを返す。
// 事前検索と一意インデックスの両方で重複を検出するため、同時登録も片方のみ成功する。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	email := NormalizeEmail(in.Email)

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailInUseError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PhotoURL:     strings.TrimSpace(in.PhotoURL),
		PasswordHash: hash,
		JoinedEvents: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailInUseError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user signed up", slog.String("user_id", user.ID))

	return s.issue(ctx, user)
}

// Login はメールアドレスとパスワードを照合し、セッションを発行する。
// メールアドレス不明とパスワード不一致は同じINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || !s.hasher.Matches(user.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))

	return s.issue(ctx, user)
}

// Logout はトークンを失効させる。Cookieの削除はハンドラーが行う。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	return nil
}

// Me はトークンに埋め込まれた本人情報を返す。ユーザーストアは参照しない。
func (s *Service) Me(identity *model.Identity) (*model.Identity, error) {
	if identity == nil {
		return nil, model.NewUnauthorizedError()
	}
	return identity, nil
}

func (s *Service) issue(ctx context.Context, user *model.User) (*Session, error) {
	token, expiresAt, err := s.sessions.Issue(ctx, model.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Name:     user.Name,
		PhotoURL: user.PhotoURL,
	})
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
