package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/eventgarden/internal/event"
	"github.com/hitoshi/eventgarden/internal/model"
)

// EventServiceInterface はイベントハンドラーが必要とするサービスインターフェース。
type EventServiceInterface interface {
	Create(ctx context.Context, host *model.Identity, in event.Input) (*model.Event, error)
	// Get は見つからない場合nilを返す。
	Get(ctx context.Context, id string) (*model.Event, error)
	List(ctx context.Context, searchText, filterType string) ([]*model.Event, error)
	ListByHost(ctx context.Context, email string) ([]*model.Event, error)
	ListJoined(ctx context.Context, email string) ([]*model.Event, error)
	Update(ctx context.Context, actor *model.Identity, id string, in event.Input) (*model.Event, error)
	Delete(ctx context.Context, actor *model.Identity, id string) error
}

// EventHandler はイベントのHTTPハンドラー。
type EventHandler struct {
	service  EventServiceInterface
	validate *validator.Validate
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface) *EventHandler {
	return &EventHandler{
		service:  service,
		validate: newValidator(),
	}
}

type eventRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Location    string    `json:"location" validate:"max=200"`
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

func (req eventRequest) toInput() event.Input {
	return event.Input{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		ScheduledAt: req.ScheduledAt,
	}
}

// List は検索条件に一致するイベントを新しい順に返す。
// GET /allevents?searchText=&filterType=
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	events, err := h.service.List(r.Context(), q.Get("searchText"), q.Get("filterType"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nonNilEvents(events))
}

// Get はイベントを1件返す。存在しない場合は200でnullを返す。
// GET /allevents/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// ListByHost は指定ユーザーが主催するイベントを返す。
// GET /myevents/{email}
func (h *EventHandler) ListByHost(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListByHost(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nonNilEvents(events))
}

// ListJoined は指定ユーザーが参加しているイベントを返す。
// GET /myjoinedevents/{email}
func (h *EventHandler) ListJoined(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListJoined(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, nonNilEvents(events))
}

// Create はセッションのユーザーを主催者としてイベントを作成する。
// POST /events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req eventRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	ev, err := h.service.Create(r.Context(), identity, req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ev)
}

// Update はイベントを更新する。主催者のみ実行できる。
// PUT /events/{id}
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req eventRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	ev, err := h.service.Update(r.Context(), identity, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// Delete はイベントを削除する。主催者のみ実行できる。
// DELETE /events/{id}
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), identity, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// nonNilEvents は空の結果を null ではなく [] としてエンコードさせる。
func nonNilEvents(events []*model.Event) []*model.Event {
	if events == nil {
		return []*model.Event{}
	}
	return events
}
