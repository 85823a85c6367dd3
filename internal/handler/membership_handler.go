package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/eventgarden/internal/membership"
	"github.com/hitoshi/eventgarden/internal/model"
)

// MembershipServiceInterface は参加操作ハンドラーが必要とするサービスインターフェース。
type MembershipServiceInterface interface {
	Join(ctx context.Context, actor *model.Identity, eventID string) (*membership.Result, error)
	Leave(ctx context.Context, userID, eventID string) (*membership.Result, error)
	IsJoined(ctx context.Context, userID, eventID string) (bool, error)

	AddToJoinedSet(ctx context.Context, actor *model.Identity, userID, eventID string) (*membership.Result, error)
	RemoveFromJoinedSet(ctx context.Context, actor *model.Identity, userID, eventID string) (*membership.Result, error)
	IncrementCount(ctx context.Context, eventID string) (*membership.Result, error)
	DecrementCount(ctx context.Context, eventID string) (*membership.Result, error)
}

// MembershipHandler はイベント参加・離脱のHTTPハンドラー。
type MembershipHandler struct {
	service  MembershipServiceInterface
	validate *validator.Validate
}

// NewMembershipHandler はMembershipHandlerを生成する。
func NewMembershipHandler(service MembershipServiceInterface) *MembershipHandler {
	return &MembershipHandler{
		service:  service,
		validate: newValidator(),
	}
}

// joinedSetRequest は旧クライアントが参加集合の更新に送るボディ。
type joinedSetRequest struct {
	EventID string `json:"eventId" validate:"required"`
}

type joinedResponse struct {
	Joined bool `json:"joined"`
}

// Join はセッションのユーザーをイベントに参加させる。
// POST /events/{id}/join
func (h *MembershipHandler) Join(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	h.writeResult(w, r)(h.service.Join(r.Context(), identity, chi.URLParam(r, "id")))
}

// Leave はセッションのユーザーをイベントから離脱させる。
// POST /events/{id}/leave
func (h *MembershipHandler) Leave(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	h.writeResult(w, r)(h.service.Leave(r.Context(), identity.UserID, chi.URLParam(r, "id")))
}

// IsJoined はセッションのユーザーがイベントに参加しているかを返す。
// GET /events/{id}/joined
func (h *MembershipHandler) IsJoined(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	joined, err := h.service.IsJoined(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, joinedResponse{Joined: joined})
}

// AddToJoinedSet は参加集合にイベントを追加する。
// PATCH /usersjoinedincrease/{userId}
func (h *MembershipHandler) AddToJoinedSet(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req joinedSetRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	h.writeResult(w, r)(h.service.AddToJoinedSet(r.Context(), identity, chi.URLParam(r, "userId"), req.EventID))
}

// RemoveFromJoinedSet は参加集合からイベントを取り除く。
// PATCH /usersjoineddecrease/{userId}
func (h *MembershipHandler) RemoveFromJoinedSet(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req joinedSetRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	h.writeResult(w, r)(h.service.RemoveFromJoinedSet(r.Context(), identity, chi.URLParam(r, "userId"), req.EventID))
}

// IncrementCount は参加者数を増やす。
// PATCH /eventscountincrement/{eventId}
func (h *MembershipHandler) IncrementCount(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, r)(h.service.IncrementCount(r.Context(), chi.URLParam(r, "eventId")))
}

// DecrementCount は参加者数を減らす。0未満にはならない。
// PATCH /eventscountdecrement/{eventId}
func (h *MembershipHandler) DecrementCount(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, r)(h.service.DecrementCount(r.Context(), chi.URLParam(r, "eventId")))
}

func (h *MembershipHandler) writeResult(w http.ResponseWriter, r *http.Request) func(*membership.Result, error) {
	return func(result *membership.Result, err error) {
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
