package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/eventgarden/internal/model"
	"github.com/hitoshi/eventgarden/internal/storage"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// GetByEmail は見つからない場合nilを返す。
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	AvatarUploadURL(ctx context.Context, userID, contentType string) (*storage.PresignedUpload, error)
}

// UserHandler はユーザープロフィールのHTTPハンドラー。
type UserHandler struct {
	service  UserServiceInterface
	validate *validator.Validate
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service:  service,
		validate: newValidator(),
	}
}

type avatarUploadRequest struct {
	ContentType string `json:"contentType" validate:"required"`
}

// GetByEmail はユーザーのプロフィールを返す。存在しない場合は200でnullを返す。
// GET /users/{email}
func (h *UserHandler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetByEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// AvatarUploadURL はアバター画像をS3へ直接アップロードするための署名付きURLを返す。
// POST /users/me/avatar
func (h *UserHandler) AvatarUploadURL(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req avatarUploadRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	upload, err := h.service.AvatarUploadURL(r.Context(), identity.UserID, req.ContentType)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, upload)
}
