package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/eventgarden/internal/model"
)

// ErrUnauthorized はトークンが無い・不正・期限切れ・失効済みの場合に返される。
var ErrUnauthorized = errors.New("auth: unauthorized")

// AuthorityConfig はSessionAuthorityの設定。
type AuthorityConfig struct {
	TokenFormat    string        // "paseto" または "jwt"
	Secret         string        // 発行・検証に使う現在の鍵
	PreviousSecret string        // ローテーション前の鍵（検証のみ、空なら無効）
	MaxAge         time.Duration // トークンの有効期間
	Denylist       Denylist      // nilの場合はNopDenylist
}

// SessionAuthority はステートレスなセッショントークンの発行・検証・失効を行う。
// 検証時にユーザーストアは参照しない。
type SessionAuthority struct {
	issuer    TokenCodec
	verifiers []TokenCodec
	denylist  Denylist
	maxAge    time.Duration
	now       func() time.Time
}

// NewSessionAuthority はSessionAuthorityを生成する。
func NewSessionAuthority(cfg AuthorityConfig) (*SessionAuthority, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("session max age must be positive, got %v", cfg.MaxAge)
	}

	current, err := NewTokenCodec(cfg.TokenFormat, cfg.Secret)
	if err != nil {
		return nil, err
	}
	verifiers := []TokenCodec{current}

	if cfg.PreviousSecret != "" {
		previous, err := NewTokenCodec(cfg.TokenFormat, cfg.PreviousSecret)
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, previous)
	}

	denylist := cfg.Denylist
	if denylist == nil {
		denylist = NopDenylist{}
	}

	return &SessionAuthority{
		issuer:    current,
		verifiers: verifiers,
		denylist:  denylist,
		maxAge:    cfg.MaxAge,
		now:       time.Now,
	}, nil
}

// MaxAge はトークンの有効期間を返す。Cookieの Max-Age に使用する。
func (a *SessionAuthority) MaxAge() time.Duration {
	return a.maxAge
}

// Issue はidentityに対する新しいトークンを現在の鍵で発行する。
func (a *SessionAuthority) Issue(_ context.Context, identity model.Identity) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.maxAge)

	token, err := a.issuer.Encode(Claims{
		UserID:    identity.UserID,
		Email:     identity.Email,
		Name:      identity.Name,
		PhotoURL:  identity.PhotoURL,
		TokenID:   uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to issue session token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify はトークンを検証し、埋め込まれた本人情報を返す。
// 失敗時は理由によらずErrUnauthorizedを返す。
func (a *SessionAuthority) Verify(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	claims, err := a.decode(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !a.now().Before(claims.ExpiresAt) {
		return nil, ErrUnauthorized
	}

	revoked, err := a.denylist.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		// 失効状態を確認できないトークンは受け付けない
		slog.Error("failed to check token revocation",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()),
		)
		return nil, ErrUnauthorized
	}
	if revoked {
		return nil, ErrUnauthorized
	}

	return &model.Identity{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Name:      claims.Name,
		PhotoURL:  claims.PhotoURL,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Revoke はトークンを残り有効期間の間Denylistに登録する。
// 不正または期限切れのトークンは失効させる必要がないため何もしない。
func (a *SessionAuthority) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := a.decode(token)
	if err != nil {
		return nil
	}

	ttl := claims.ExpiresAt.Sub(a.now())
	if ttl <= 0 {
		return nil
	}
	if err := a.denylist.Revoke(ctx, claims.TokenID, ttl); err != nil {
		return fmt.Errorf("failed to revoke session token: %w", err)
	}
	return nil
}

// decode は現在の鍵、続いてローテーション前の鍵で復号を試みる。
func (a *SessionAuthority) decode(token string) (*Claims, error) {
	for _, codec := range a.verifiers {
		claims, err := codec.Decode(token)
		if err == nil {
			return claims, nil
		}
	}
	return nil, ErrInvalidToken
}
