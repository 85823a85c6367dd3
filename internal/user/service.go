// Package user はユーザープロフィールの参照とアバター画像のアップロードURL発行を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/eventgarden/internal/model"
	"github.com/hitoshi/eventgarden/internal/storage"
)

// アップロードを許可する画像形式と拡張子
var avatarContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// UserLookup はユーザーの検索インターフェース。
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// AvatarPresigner はアバター画像の署名付きアップロードURLを発行する。
type AvatarPresigner interface {
	PresignUpload(ctx context.Context, key, contentType string) (*storage.PresignedUpload, error)
}

// Service はユーザーに関するサービス層。
type Service struct {
	users     UserLookup
	presigner AvatarPresigner
}

// NewService はServiceの新しいインスタンスを生成する。
// presignerがnilの場合、アバターアップロードは無効になる。
func NewService(users UserLookup, presigner AvatarPresigner) *Service {
	return &Service{
		users:     users,
		presigner: presigner,
	}
}

// GetByEmail はメールアドレスでユーザーを取得する。
// 見つからない場合はnilを返す（エラーにしない）。
func (s *Service) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

// AvatarUploadURL はuserIDのアバター画像用の署名付きアップロードURLを発行する。
func (s *Service) AvatarUploadURL(ctx context.Context, userID, contentType string) (*storage.PresignedUpload, error) {
	if s.presigner == nil {
		return nil, model.NewFeatureDisabledError("avatar upload")
	}

	ext, ok := avatarContentTypes[contentType]
	if !ok {
		return nil, model.NewValidationError("contentType must be image/jpeg, image/png or image/webp")
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	key := fmt.Sprintf("avatars/%s/%s%s", userID, uuid.New().String(), ext)
	upload, err := s.presigner.PresignUpload(ctx, key, contentType)
	if err != nil {
		return nil, err
	}

	slog.Info("アバターアップロードURLを発行しました",
		slog.String("user_id", userID),
		slog.String("key", key),
	)
	return upload, nil
}
