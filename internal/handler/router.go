package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/eventgarden/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionVerifier   middleware.SessionVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder // nilならHTTPステータスを集計しない

	// 運用エンドポイント
	DB             Pinger
	MetricsHandler http.Handler // nilなら/metricsを公開しない

	AuthService       AuthServiceInterface
	AuthConfig        AuthHandlerConfig
	EventService      EventServiceInterface
	MembershipService MembershipServiceInterface
	UserService       UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → CORS → SecurityHeaders → Logging → Recovery → CSRF
//	  公開ルート: (/signup, /users, /login のみ) RateLimit(Auth)
//	  認証ルート: Session → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware())

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.AuthConfig.CookieSecure,
		CookieDomain: deps.AuthConfig.CookieDomain,
	}
	r.Use(middleware.NewCSRFMiddleware(csrfConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	eventHandler := NewEventHandler(deps.EventService)
	membershipHandler := NewMembershipHandler(deps.MembershipService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.DB))
	r.Get("/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/signup", authHandler.Signup)
		r.Post("/users", authHandler.Signup)
		r.Post("/login", authHandler.Login)
	})

	// Logoutはトークンが失効済みでもCookieを消せるよう認証を要求しない
	r.Post("/logout", authHandler.Logout)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/me", authHandler.Me)

		r.Get("/allevents", eventHandler.List)
		r.Get("/allevents/{id}", eventHandler.Get)
		r.Get("/myevents/{email}", eventHandler.ListByHost)
		r.Get("/myjoinedevents/{email}", eventHandler.ListJoined)

		r.Post("/events", eventHandler.Create)
		r.Route("/events/{id}", func(r chi.Router) {
			r.Put("/", eventHandler.Update)
			r.Delete("/", eventHandler.Delete)

			r.Post("/join", membershipHandler.Join)
			r.Post("/leave", membershipHandler.Leave)
			r.Get("/joined", membershipHandler.IsJoined)
		})

		// 旧クライアント向けの単一操作エンドポイント
		r.Patch("/usersjoinedincrease/{userId}", membershipHandler.AddToJoinedSet)
		r.Patch("/usersjoineddecrease/{userId}", membershipHandler.RemoveFromJoinedSet)
		r.Patch("/eventscountincrement/{eventId}", membershipHandler.IncrementCount)
		r.Patch("/eventscountdecrement/{eventId}", membershipHandler.DecrementCount)

		r.Post("/users/me/avatar", userHandler.AvatarUploadURL)
		r.Get("/users/{email}", userHandler.GetByEmail)
	})

	return r
}
