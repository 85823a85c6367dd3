package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/eventgarden/internal/auth"
	"github.com/hitoshi/eventgarden/internal/event"
	"github.com/hitoshi/eventgarden/internal/membership"
	"github.com/hitoshi/eventgarden/internal/middleware"
	"github.com/hitoshi/eventgarden/internal/model"
	"github.com/hitoshi/eventgarden/internal/storage"
	"github.com/hitoshi/eventgarden/internal/user"
)

// 実サービスがハンドラーのインターフェースを満たすことをコンパイル時に確認する
var (
	_ AuthServiceInterface       = (*auth.Service)(nil)
	_ EventServiceInterface      = (*event.Service)(nil)
	_ MembershipServiceInterface = (*membership.Coordinator)(nil)
	_ UserServiceInterface       = (*user.Service)(nil)
)

// --- モック定義 ---

type mockAuthService struct {
	signupFn func(ctx context.Context, in auth.SignupInput) (*auth.Session, error)
	loginFn  func(ctx context.Context, email, password string) (*auth.Session, error)
	logoutFn func(ctx context.Context, token string) error
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*auth.Session, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) Me(identity *model.Identity) (*model.Identity, error) {
	if identity == nil {
		return nil, model.NewUnauthorizedError()
	}
	return identity, nil
}

type mockEventService struct {
	createFn     func(ctx context.Context, host *model.Identity, in event.Input) (*model.Event, error)
	getFn        func(ctx context.Context, id string) (*model.Event, error)
	listFn       func(ctx context.Context, searchText, filterType string) ([]*model.Event, error)
	listByHostFn func(ctx context.Context, email string) ([]*model.Event, error)
	listJoinedFn func(ctx context.Context, email string) ([]*model.Event, error)
	updateFn     func(ctx context.Context, actor *model.Identity, id string, in event.Input) (*model.Event, error)
	deleteFn     func(ctx context.Context, actor *model.Identity, id string) error
}

func (m *mockEventService) Create(ctx context.Context, host *model.Identity, in event.Input) (*model.Event, error) {
	if m.createFn != nil {
		return m.createFn(ctx, host, in)
	}
	return &model.Event{ID: "event-1", Title: in.Title}, nil
}

func (m *mockEventService) Get(ctx context.Context, id string) (*model.Event, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockEventService) List(ctx context.Context, searchText, filterType string) ([]*model.Event, error) {
	if m.listFn != nil {
		return m.listFn(ctx, searchText, filterType)
	}
	return nil, nil
}

func (m *mockEventService) ListByHost(ctx context.Context, email string) ([]*model.Event, error) {
	if m.listByHostFn != nil {
		return m.listByHostFn(ctx, email)
	}
	return nil, nil
}

func (m *mockEventService) ListJoined(ctx context.Context, email string) ([]*model.Event, error) {
	if m.listJoinedFn != nil {
		return m.listJoinedFn(ctx, email)
	}
	return nil, nil
}

func (m *mockEventService) Update(ctx context.Context, actor *model.Identity, id string, in event.Input) (*model.Event, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actor, id, in)
	}
	return &model.Event{ID: id, Title: in.Title}, nil
}

func (m *mockEventService) Delete(ctx context.Context, actor *model.Identity, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, id)
	}
	return nil
}

type mockMembershipService struct {
	joinFn      func(ctx context.Context, actor *model.Identity, eventID string) (*membership.Result, error)
	leaveFn     func(ctx context.Context, userID, eventID string) (*membership.Result, error)
	isJoinedFn  func(ctx context.Context, userID, eventID string) (bool, error)
	addFn       func(ctx context.Context, actor *model.Identity, userID, eventID string) (*membership.Result, error)
	removeFn    func(ctx context.Context, actor *model.Identity, userID, eventID string) (*membership.Result, error)
	incrementFn func(ctx context.Context, eventID string) (*membership.Result, error)
	decrementFn func(ctx context.Context, eventID string) (*membership.Result, error)
}

func (m *mockMembershipService) Join(ctx context.Context, actor *model.Identity, eventID string) (*membership.Result, error) {
	if m.joinFn != nil {
		return m.joinFn(ctx, actor, eventID)
	}
	return &membership.Result{Changed: true}, nil
}

func (m *mockMembershipService) Leave(ctx context.Context, userID, eventID string) (*membership.Result, error) {
	if m.leaveFn != nil {
		return m.leaveFn(ctx, userID, eventID)
	}
	return &membership.Result{Changed: true}, nil
}

func (m *mockMembershipService) IsJoined(ctx context.Context, userID, eventID string) (bool, error) {
	if m.isJoinedFn != nil {
		return m.isJoinedFn(ctx, userID, eventID)
	}
	return false, nil
}

func (m *mockMembershipService) AddToJoinedSet(ctx context.Context, actor *model.Identity, userID, eventID string) (*membership.Result, error) {
	if m.addFn != nil {
		return m.addFn(ctx, actor, userID, eventID)
	}
	return &membership.Result{Changed: true}, nil
}

func (m *mockMembershipService) RemoveFromJoinedSet(ctx context.Context, actor *model.Identity, userID, eventID string) (*membership.Result, error) {
	if m.removeFn != nil {
		return m.removeFn(ctx, actor, userID, eventID)
	}
	return &membership.Result{Changed: true}, nil
}

func (m *mockMembershipService) IncrementCount(ctx context.Context, eventID string) (*membership.Result, error) {
	if m.incrementFn != nil {
		return m.incrementFn(ctx, eventID)
	}
	return &membership.Result{Changed: true}, nil
}

func (m *mockMembershipService) DecrementCount(ctx context.Context, eventID string) (*membership.Result, error) {
	if m.decrementFn != nil {
		return m.decrementFn(ctx, eventID)
	}
	return &membership.Result{Changed: true}, nil
}

type mockUserService struct {
	getByEmailFn      func(ctx context.Context, email string) (*model.User, error)
	avatarUploadURLFn func(ctx context.Context, userID, contentType string) (*storage.PresignedUpload, error)
}

func (m *mockUserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserService) AvatarUploadURL(ctx context.Context, userID, contentType string) (*storage.PresignedUpload, error) {
	if m.avatarUploadURLFn != nil {
		return m.avatarUploadURLFn(ctx, userID, contentType)
	}
	return nil, model.NewFeatureDisabledError("avatar upload")
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

func withIdentity(r *http.Request, identity *model.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), identity))
}

// newJSONRequest はContent-Type: application/json付きのリクエストを生成する。
func newJSONRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

var testHost = &model.Identity{UserID: "host-1", Email: "host@example.com", Name: "Host"}
