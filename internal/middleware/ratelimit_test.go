package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/eventgarden/internal/model"
)

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(ContextWithIdentity(r.Context(), &model.Identity{UserID: userID}))
}

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		AuthRate:        rate.Limit(1.0 / 60.0),
		AuthBurst:       1,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGeneralMiddleware_AllowsBurstThenReturns429(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	frozen := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return frozen }

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/allevents", nil), "user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/allevents", nil), "user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimitExceeded)
	}
}

func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	frozen := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return frozen }

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), withUser(httptest.NewRequest(http.MethodGet, "/", nil), "user-a"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/", nil), "user-b"))
	if w.Code != http.StatusOK {
		t.Errorf("user-b status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", got)
	}
}

func TestGeneralMiddleware_NoIdentity_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_LimitsPerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	frozen := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return frozen }

	handler := rl.AuthMiddleware()(okHandler())

	login := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if got := login("203.0.113.5:40000"); got != http.StatusOK {
		t.Fatalf("first login status = %d, want %d", got, http.StatusOK)
	}
	// ポートが異なっても同じIPとして扱う
	if got := login("203.0.113.5:40001"); got != http.StatusTooManyRequests {
		t.Errorf("second login status = %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := login("198.51.100.7:40000"); got != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", got, http.StatusOK)
	}
	if got := rl.AuthLimiterCount(); got != 2 {
		t.Errorf("AuthLimiterCount() = %d, want 2", got)
	}
}

// signup / loginの制限は認証済みAPIの制限と独立している
func TestAuthMiddleware_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser(httptest.NewRequest(http.MethodGet, "/", nil), "user-1"))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.AuthLimiterCount() != 0 {
		t.Errorf("AuthLimiterCount() = %d, want 0", rl.AuthLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return base }

	handler := rl.GeneralMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), withUser(httptest.NewRequest(http.MethodGet, "/", nil), "user-old"))

	rl.now = func() time.Time { return base.Add(90 * time.Second) }
	handler.ServeHTTP(httptest.NewRecorder(), withUser(httptest.NewRequest(http.MethodGet, "/", nil), "user-new"))

	// TTLはCleanupIntervalの2倍（2分）
	rl.now = func() time.Time { return base.Add(150 * time.Second) }
	rl.cleanup()

	if got := rl.GeneralLimiterCount(); got != 1 {
		t.Errorf("GeneralLimiterCount() = %d, want 1", got)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestNewRateLimiterConfig(t *testing.T) {
	cfg := NewRateLimiterConfig(60, 6)
	if cfg.GeneralRate != rate.Limit(1) || cfg.GeneralBurst != 60 {
		t.Errorf("general = (%v, %d), want (1, 60)", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.AuthRate != rate.Limit(0.1) || cfg.AuthBurst != 6 {
		t.Errorf("auth = (%v, %d), want (0.1, 6)", cfg.AuthRate, cfg.AuthBurst)
	}

	def := DefaultRateLimiterConfig()
	fallback := NewRateLimiterConfig(0, -1)
	if fallback != def {
		t.Errorf("NewRateLimiterConfig(0, -1) = %+v, want defaults %+v", fallback, def)
	}
	if def.GeneralBurst != 120 || def.AuthBurst != 10 {
		t.Errorf("defaults = %+v, want 120/10 bursts", def)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := clientIP(req); got != "2001:db8::1" {
		t.Errorf("clientIP() = %q, want %q", got, "2001:db8::1")
	}

	req.RemoteAddr = "not-a-hostport"
	if got := clientIP(req); got != "not-a-hostport" {
		t.Errorf("clientIP() = %q, want %q", got, "not-a-hostport")
	}
}
